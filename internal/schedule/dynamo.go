package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore persists schedules in a DynamoDB table whose partition key
// is the string attribute conversationId.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("schedule: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("schedule: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) itemKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
	}
}

func (s *DynamoStore) Put(ctx context.Context, item ScheduledReopen) error {
	id, err := NormalizeID(item.ConversationID)
	if err != nil {
		return err
	}
	item.ConversationID = id
	if item.Status == "" {
		item.Status = StatusPending
	}

	av, err := attributevalue.MarshalMap(toRecord(item))
	if err != nil {
		return fmt.Errorf("schedule: marshal %s: %w", id, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("schedule: put %s: %w", id, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, conversationID string) (*ScheduledReopen, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule: get %s: %w", conversationID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("schedule: decode %s: %w", conversationID, err)
	}
	item := rec.schedule()
	return &item, nil
}

func (s *DynamoStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(conversationID),
	})
	if err != nil {
		return fmt.Errorf("schedule: delete %s: %w", conversationID, err)
	}
	return nil
}

func (s *DynamoStore) DeleteIfDue(ctx context.Context, conversationID string, dueAt time.Time) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.itemKey(conversationID),
		ConditionExpression: aws.String("dueAtMs = :due"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":due": millisAttr(DueMillis(dueAt)),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("schedule: delete if due %s: %w", conversationID, err)
	}
	return true, nil
}

func (s *DynamoStore) RecordFailure(ctx context.Context, conversationID string, dueAt time.Time, f Failure) (bool, error) {
	status := StatusPending
	if f.Abandoned {
		status = StatusAbandoned
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.itemKey(conversationID),
		ConditionExpression: aws.String("dueAtMs = :due"),
		UpdateExpression:    aws.String("SET attempts = :attempts, nextAttemptAtMs = :next, lastError = :error, #status = :status, updatedAtMs = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":due":      millisAttr(DueMillis(dueAt)),
			":attempts": &types.AttributeValueMemberN{Value: strconv.Itoa(f.Attempts)},
			":next":     millisAttr(ToMillis(f.NextAttemptAt)),
			":error":    &types.AttributeValueMemberS{Value: f.LastError},
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":updated":  millisAttr(ToMillis(f.At)),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("schedule: record failure %s: %w", conversationID, err)
	}
	return true, nil
}

// Each pages through a table Scan, handing items to fn page by page.
func (s *DynamoStore) Each(ctx context.Context, fn func(ScheduledReopen) error) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("schedule: scan: %w", err)
		}
		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return fmt.Errorf("schedule: decode scan page: %w", err)
		}
		for _, rec := range recs {
			if err := fn(rec.schedule()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *DynamoStore) Close() error { return nil }

func millisAttr(ms int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(ms, 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}
