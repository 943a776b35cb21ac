package api

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const (
	maxBodySize       = 64 * 1024 // 64 KiB
	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 128
	activityPageSize  = 50
)

// decodeStrict reads a JSON body and rejects unknown fields.
func decodeStrict(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodePatch is decodeStrict for bodies whose fields distinguish JSON null
// from absent. encoding/json passes a literal null to UnmarshalJSON, which
// domain.Nullable relies on.
func decodePatch(c echo.Context, dst any) error {
	dec := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
