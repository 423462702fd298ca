package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"shipping-assistant/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	logIndexName = "GSI1"
	logIndexPK   = "TURNLOG"
	counterPK    = "META#TURNLOG"
	counterSK    = "META#"

	// sortableTime keeps a fixed width so sort keys order chronologically.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Dynamo.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Dynamo stores turns in a single DynamoDB table. Each turn is partitioned by
// thread and also projected onto the GSI1 index under one partition so the
// whole log can be read in time order. A counter item tracks the total.
type Dynamo struct {
	api       dynamodbAPI
	tableName string
	newID     func() string
}

// NewDynamo creates a DynamoDB-backed turn log.
func NewDynamo(api dynamodbAPI, tableName string) (*Dynamo, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Dynamo{api: api, tableName: tableName, newID: uuid.NewString}, nil
}

// convPK returns the partition key for a thread.
func convPK(threadID string) string {
	return "CONV#" + threadID
}

// logSortKey orders turns by creation time; the random suffix keeps keys
// unique when two turns share a timestamp.
func logSortKey(ts time.Time, id string) string {
	return ts.UTC().Format(sortableTime) + "#" + id
}

// AppendTurn writes the turn and bumps the counter in one transaction.
func (d *Dynamo) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if turn.ThreadID == "" {
		return errors.New("repository: AppendTurn: thread id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	sk := logSortKey(turn.CreatedAt, d.newID())

	_, err := d.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(d.tableName),
					Item:                turnItem(turn, sk),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(d.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: counterPK},
						"SK": &types.AttributeValueMemberS{Value: counterSK},
					},
					UpdateExpression: aws.String("ADD turns :one SET lastActivity = :ts"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
						":ts":  &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns, newest first.
func (d *Dynamo) RecentTurns(ctx context.Context, limit int) ([]domain.Turn, error) {
	turns, err := d.queryLog(ctx, false, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns: %w", err)
	}
	return turns, nil
}

// OldestTurns returns up to limit turns, oldest first.
func (d *Dynamo) OldestTurns(ctx context.Context, limit int) ([]domain.Turn, error) {
	turns, err := d.queryLog(ctx, true, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: OldestTurns: %w", err)
	}
	return turns, nil
}

func (d *Dynamo) queryLog(ctx context.Context, ascending bool, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}
	out, err := d.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(logIndexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: logIndexPK},
		},
		ScanIndexForward: aws.Bool(ascending),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return itemsToTurns(out.Items)
}

// CountTurns returns the number of turns ever appended.
func (d *Dynamo) CountTurns(ctx context.Context) (int64, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: counterPK},
			"SK": &types.AttributeValueMemberS{Value: counterSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: CountTurns get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	n, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: CountTurns decode turns: %w", err)
	}
	return n, nil
}

// SearchTurns returns turns whose message or reply contains query, newest
// first. DynamoDB's contains() is case-sensitive.
func (d *Dynamo) SearchTurns(ctx context.Context, query string) ([]domain.Turn, error) {
	var (
		turns    []domain.Turn
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			IndexName:              aws.String(logIndexName),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			FilterExpression:       aws.String("contains(userMessage, :q) OR contains(assistantReply, :q)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: logIndexPK},
				":q":  &types.AttributeValueMemberS{Value: query},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: SearchTurns query: %w", err)
		}
		page, err := itemsToTurns(out.Items)
		if err != nil {
			return nil, fmt.Errorf("repository: SearchTurns: %w", err)
		}
		turns = append(turns, page...)
		if len(turns) >= searchLimit {
			return turns[:searchLimit], nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

func turnItem(turn domain.Turn, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.ThreadID)},
		"SK":             &types.AttributeValueMemberS{Value: skPrefixTurn + sk},
		"GSI1PK":         &types.AttributeValueMemberS{Value: logIndexPK},
		"GSI1SK":         &types.AttributeValueMemberS{Value: sk},
		"threadId":       &types.AttributeValueMemberS{Value: turn.ThreadID},
		"userMessage":    &types.AttributeValueMemberS{Value: turn.UserMessage},
		"assistantReply": &types.AttributeValueMemberS{Value: turn.AssistantReply},
		"createdAt":      &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemsToTurns(items []map[string]types.AttributeValue) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(items))
	for _, item := range items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return domain.Turn{}, err
	}
	userMessage, err := strAttr(item, "userMessage")
	if err != nil {
		return domain.Turn{}, err
	}
	reply, _ := strAttr(item, "assistantReply") // allow empty
	rawTS, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
	}
	return domain.Turn{
		ThreadID:       threadID,
		UserMessage:    userMessage,
		AssistantReply: reply,
		CreatedAt:      createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
