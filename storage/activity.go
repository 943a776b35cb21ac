package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tandem/domain"
)

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// ActivityQueue forwards board events to the Azure queue drained by the
// activity worker.
type ActivityQueue struct {
	queue *azqueue.QueueClient
}

// NewActivityQueue creates a queue client from the given connection string.
func NewActivityQueue(connStr, queueName string) (*ActivityQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &ActivityQueue{queue: q}, nil
}

// Send enqueues ev.
func (a *ActivityQueue) Send(ctx context.Context, ev domain.BoardEvent) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	_, err = a.queue.EnqueueMessage(ctx, data, nil)
	return err
}

// QueuedEvent is a dequeued board event with the receipt needed to delete it.
type QueuedEvent struct {
	MessageID  string
	PopReceipt string
	Event      domain.BoardEvent
	Raw        string
}

// Dequeue fetches up to max messages. Messages that cannot be decoded are
// returned with a zero Event so the caller can drop them.
func (a *ActivityQueue) Dequeue(ctx context.Context, max int32, visibility time.Duration) ([]QueuedEvent, error) {
	vis := int32(visibility / time.Second)
	resp, err := a.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &max,
		VisibilityTimeout: &vis,
	})
	if err != nil {
		return nil, err
	}
	out := make([]QueuedEvent, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		qe := QueuedEvent{MessageID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			qe.Raw = *m.MessageText
			_ = sonic.UnmarshalString(qe.Raw, &qe.Event)
		}
		out = append(out, qe)
	}
	return out, nil
}

// Delete removes a processed message from the queue.
func (a *ActivityQueue) Delete(ctx context.Context, messageID, popReceipt string) error {
	_, err := a.queue.DeleteMessage(ctx, messageID, popReceipt, nil)
	return err
}

// ActivityLog is the per-project event history kept in an Azure table.
type ActivityLog struct {
	table *aztables.Client
}

// NewActivityLog creates a table client from the given connection string.
func NewActivityLog(connStr, tableName string) (*ActivityLog, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &ActivityLog{table: svc.NewClient(tableName)}, nil
}

type activityEntity struct {
	aztables.Entity
	EventID   string `json:"EventID"`
	Type      string `json:"Type"`
	TaskID    string `json:"TaskID"`
	UserID    string `json:"UserID"`
	Status    string `json:"Status"`
	Order     int    `json:"Order"`
	EventTime string `json:"EventTime"`
}

// activityRowKey sorts newest first within a partition.
func activityRowKey(ev domain.BoardEvent) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-ev.Time.UnixNano(), ev.ID)
}

func toActivityEntity(ev domain.BoardEvent) activityEntity {
	return activityEntity{
		Entity:    aztables.Entity{PartitionKey: ev.ProjectID, RowKey: activityRowKey(ev)},
		EventID:   ev.ID,
		Type:      string(ev.Type),
		TaskID:    ev.TaskID,
		UserID:    ev.UserID,
		Status:    string(ev.Status),
		Order:     ev.Order,
		EventTime: ev.Time.UTC().Format(time.RFC3339Nano),
	}
}

func (e activityEntity) toDomain() domain.BoardEvent {
	ts, _ := time.Parse(time.RFC3339Nano, e.EventTime)
	return domain.BoardEvent{
		ID:        e.EventID,
		Type:      domain.EventType(e.Type),
		ProjectID: e.PartitionKey,
		TaskID:    e.TaskID,
		UserID:    e.UserID,
		Status:    domain.Status(e.Status),
		Order:     e.Order,
		Time:      ts,
	}
}

// Append stores ev. Redelivered events are ignored.
func (l *ActivityLog) Append(ctx context.Context, ev domain.BoardEvent) error {
	payload, err := sonic.Marshal(toActivityEntity(ev))
	if err != nil {
		return err
	}
	_, err = l.table.AddEntity(ctx, payload, nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

// Recent returns up to limit events for projectID, newest first.
func (l *ActivityLog) Recent(ctx context.Context, projectID string, limit int) ([]domain.BoardEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := "PartitionKey eq '" + strings.ReplaceAll(projectID, "'", "''") + "'"
	top := int32(limit)
	pager := l.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	events := []domain.BoardEvent{}
	for pager.More() && len(events) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent activityEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			events = append(events, ent.toDomain())
			if len(events) == limit {
				break
			}
		}
	}
	return events, nil
}
