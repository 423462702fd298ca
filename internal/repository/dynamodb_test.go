package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"shipping-assistant/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	queryInputs  []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	idx := len(f.queryInputs) - 1
	if idx >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOuts[idx], nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeTurnItem(threadID, msg, reply string, ts time.Time) map[string]types.AttributeValue {
	return turnItem(domain.Turn{ThreadID: threadID, UserMessage: msg, AssistantReply: reply, CreatedAt: ts}, logSortKey(ts, "id"))
}

func mustNewDynamo(t *testing.T, db *fakeDynamo) *Dynamo {
	t.Helper()
	d, err := NewDynamo(db, "test-table")
	require.NoError(t, err)
	d.newID = func() string { return "fixed-id" }
	return d
}

func TestNewDynamo_Validates(t *testing.T) {
	_, err := NewDynamo(nil, "t")
	require.Error(t, err)
	_, err = NewDynamo(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestLogSortKey_OrdersChronologically(t *testing.T) {
	base := time.Date(2025, 2, 27, 11, 0, 5, 0, time.UTC)
	times := []time.Time{
		base.Add(120 * time.Millisecond),
		base.Add(100 * time.Millisecond),
		base,
		base.Add(time.Second),
	}
	keys := make([]string, len(times))
	for i, ts := range times {
		keys[i] = logSortKey(ts, "x")
	}
	sort.Strings(keys)
	require.Equal(t, []string{
		logSortKey(base, "x"),
		logSortKey(base.Add(100*time.Millisecond), "x"),
		logSortKey(base.Add(120*time.Millisecond), "x"),
		logSortKey(base.Add(time.Second), "x"),
	}, keys)
}

func TestDynamoAppendTurn(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDynamo(t, db)
	ts := time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC)

	err := d.AppendTurn(context.Background(), domain.Turn{ThreadID: "thread_abc", UserMessage: "hi", AssistantReply: "hello", CreatedAt: ts})
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "CONV#thread_abc", put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "TURN#2025-02-27T12:00:00.000000000Z#fixed-id", put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, logIndexPK, put.Item["GSI1PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "hello", put.Item["assistantReply"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *put.ConditionExpression)

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Equal(t, counterPK, update.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *update.UpdateExpression, "ADD turns :one")
}

func TestDynamoAppendTurn_Errors(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{})
	require.Error(t, d.AppendTurn(context.Background(), domain.Turn{UserMessage: "hi"}))

	d = mustNewDynamo(t, &fakeDynamo{txErr: errors.New("TransactionCanceledException")})
	err := d.AppendTurn(context.Background(), domain.Turn{ThreadID: "thread_abc", UserMessage: "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendTurn")
}

func TestDynamoRecentTurns(t *testing.T) {
	newer := time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC)
	older := time.Date(2025, 2, 27, 11, 0, 0, 0, time.UTC)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		makeTurnItem("thread_b", "newer", "b", newer),
		makeTurnItem("thread_a", "older", "a", older),
	}}}}
	d := mustNewDynamo(t, db)

	turns, err := d.RecentTurns(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{
		{ThreadID: "thread_b", UserMessage: "newer", AssistantReply: "b", CreatedAt: newer},
		{ThreadID: "thread_a", UserMessage: "older", AssistantReply: "a", CreatedAt: older},
	}, turns)

	in := db.queryInputs[0]
	require.Equal(t, logIndexName, *in.IndexName)
	require.Equal(t, "GSI1PK = :pk", *in.KeyConditionExpression)
	require.False(t, *in.ScanIndexForward)
	require.EqualValues(t, 5, *in.Limit)
}

func TestDynamoOldestTurns_Ascending(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDynamo(t, db)

	turns, err := d.OldestTurns(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, turns)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
}

func TestDynamoQueryErrors(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := d.RecentTurns(context.Background(), 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecentTurns")

	bad := map[string]types.AttributeValue{"threadId": &types.AttributeValueMemberS{Value: "thread_a"}}
	d = mustNewDynamo(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{bad}}}})
	_, err = d.OldestTurns(context.Background(), 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "userMessage")
}

func TestDynamoCountTurns(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: counterPK},
		"SK":    &types.AttributeValueMemberS{Value: counterSK},
		"turns": &types.AttributeValueMemberN{Value: "7"},
	}}}
	d := mustNewDynamo(t, db)

	n, err := d.CountTurns(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestDynamoCountTurns_MissingCounter(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	n, err := d.CountTurns(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDynamoCountTurns_Malformed(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"turns": &types.AttributeValueMemberS{Value: "bad"},
	}}})
	_, err := d.CountTurns(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode turns")
}

func TestDynamoSearchTurns_Paginates(t *testing.T) {
	ts := time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC)
	lastKey := map[string]types.AttributeValue{"GSI1SK": &types.AttributeValueMemberS{Value: "k"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeTurnItem("thread_a", "my package", "x", ts)}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{makeTurnItem("thread_b", "package?", "y", ts)}},
	}}
	d := mustNewDynamo(t, db)

	turns, err := d.SearchTurns(context.Background(), "package")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
	require.Equal(t, "package", db.queryInputs[0].ExpressionAttributeValues[":q"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoSearchTurns_CapsResults(t *testing.T) {
	ts := time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC)
	items := make([]map[string]types.AttributeValue, 0, searchLimit+10)
	for i := 0; i < searchLimit+10; i++ {
		items = append(items, makeTurnItem("thread_a", fmt.Sprintf("q%d", i), "r", ts))
	}
	lastKey := map[string]types.AttributeValue{"GSI1SK": &types.AttributeValueMemberS{Value: "k"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: items, LastEvaluatedKey: lastKey}}}
	d := mustNewDynamo(t, db)

	turns, err := d.SearchTurns(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, turns, searchLimit)
	require.Len(t, db.queryInputs, 1)
}
