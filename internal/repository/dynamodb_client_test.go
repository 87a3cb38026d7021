package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	updateOut    *dynamodb.UpdateItemOutput
	updateErr    error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	// copy: the client reuses the input across pages
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func counterOut(n string) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		attrNextID: &types.AttributeValueMemberN{Value: n},
	}}
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", WithTTL(time.Hour))
	require.NoError(t, err)
	c.now = fixedNow
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestMsgSK_SortsNumerically(t *testing.T) {
	require.Equal(t, "MSG#000000000002", msgSK(2))
	require.Less(t, msgSK(9), msgSK(10))
}

func TestAppendMessage_AllocatesIDAndWritesItem(t *testing.T) {
	db := &fakeDynamo{updateOut: counterOut("3")}
	c := mustNewClient(t, db)

	row := jsonx.NewObject()
	row.Set("brand", "X")
	msg, err := c.AppendMessage(context.Background(), domain.Message{
		ConversationID: "abc",
		Sender:         domain.SenderAssistant,
		Content:        "",
		Table:          []*jsonx.Object{row},
		Context:        &domain.RequestContext{Query: "q", Response: []any{row}},
		CanSummarize:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "3", msg.ID)
	require.Equal(t, fixedNow(), msg.CreatedAt)

	require.NotNil(t, db.lastUpdateIn)
	require.Equal(t, types.ReturnValueUpdatedNew, db.lastUpdateIn.ReturnValues)
	require.Equal(t, "CONV#abc", db.lastUpdateIn.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, db.lastUpdateIn.Key["SK"].(*types.AttributeValueMemberS).Value)

	item := db.lastPutInput.Item
	require.Equal(t, "MSG#000000000003", item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, `[{"brand":"X"}]`, item["table"].(*types.AttributeValueMemberS).Value)
	require.True(t, item["canSummarize"].(*types.AttributeValueMemberBOOL).Value)
	require.Equal(t, "1709298000", item["ttl"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, conditionNewKey, *db.lastPutInput.ConditionExpression)
}

func TestAppendMessage_TooLarge(t *testing.T) {
	db := &fakeDynamo{updateOut: counterOut("1")}
	c := mustNewClient(t, db)

	rows := make([]*jsonx.Object, 0, 5000)
	for i := 0; i < 5000; i++ {
		row := jsonx.NewObject()
		row.Set("brand", strings.Repeat("b", 60))
		row.Set("sales", i)
		rows = append(rows, row)
	}
	_, err := c.AppendMessage(context.Background(), domain.Message{
		ConversationID: "abc",
		Sender:         domain.SenderAssistant,
		Table:          rows,
	})
	require.ErrorIs(t, err, domain.ErrMessageTooLarge)
	require.Nil(t, db.lastUpdateIn, "no id is allocated for a rejected message")
	require.Nil(t, db.lastPutInput)

	_, err = c.AppendMessage(context.Background(), domain.Message{
		ConversationID: "abc",
		Sender:         domain.SenderAssistant,
		Table:          rows[:1000],
	})
	require.NoError(t, err)
	require.NotNil(t, db.lastPutInput)
}

func TestAppendMessage_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.AppendMessage(context.Background(), domain.Message{})
	require.Error(t, err)

	c = mustNewClient(t, &fakeDynamo{updateErr: errors.New("throttled")})
	_, err = c.AppendMessage(context.Background(), domain.Message{ConversationID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "nextMessageID")

	c = mustNewClient(t, &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{}})
	_, err = c.AppendMessage(context.Background(), domain.Message{ConversationID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")

	c = mustNewClient(t, &fakeDynamo{updateOut: counterOut("1"), putErr: errors.New("boom")})
	_, err = c.AppendMessage(context.Background(), domain.Message{ConversationID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendMessage put")
}

func TestGetMessage_RoundTripsStoredItem(t *testing.T) {
	db := &fakeDynamo{updateOut: counterOut("7")}
	c := mustNewClient(t, db)

	row := jsonx.NewObject()
	row.Set("z", 1)
	row.Set("a", "two")
	in := domain.Message{
		ConversationID: "abc",
		Sender:         domain.SenderAssistant,
		Table:          []*jsonx.Object{row},
		Context:        &domain.RequestContext{Query: "q", Response: []any{row}, OfferResponse: "offer"},
		GeneratedOffer: true,
	}
	stored, err := c.AppendMessage(context.Background(), in)
	require.NoError(t, err)

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	got, found, err := c.GetMessage(context.Background(), "abc", "7")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, stored.ID, got.ID)
	require.Equal(t, domain.SenderAssistant, got.Sender)
	require.True(t, got.GeneratedOffer)
	require.Len(t, got.Table, 1)
	require.Equal(t, []string{"z", "a"}, got.Table[0].Keys())
	require.Equal(t, "q", got.Context.Query)
	require.Equal(t, "offer", got.Context.OfferResponse)
	require.Equal(t, "MSG#000000000007", db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestGetMessage_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, found, err := c.GetMessage(context.Background(), "abc", "1")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = c.GetMessage(context.Background(), "abc", "not-a-number")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetMessage_GetItemError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetMessage(context.Background(), "abc", "1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetMessage")
}

func TestListMessages_FollowsPagination(t *testing.T) {
	item := func(id string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"id":             &types.AttributeValueMemberS{Value: id},
			"conversationId": &types.AttributeValueMemberS{Value: "abc"},
			"sender":         &types.AttributeValueMemberS{Value: "user"},
			"content":        &types.AttributeValueMemberS{Value: "hi " + id},
			"createdAt":      &types.AttributeValueMemberS{Value: "2024-03-01T12:00:00Z"},
		}
	}
	lastKey := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "CONV#abc"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{item("1"), item("2")}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{item("3")}},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "hi 3", msgs[2].Content)
	require.Equal(t, fixedNow(), msgs[0].CreatedAt)

	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
}

func TestListMessages_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.ListMessages(context.Background(), "abc")
	require.Error(t, err)

	bad := map[string]types.AttributeValue{"id": &types.AttributeValueMemberN{Value: "1"}}
	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{bad}}}})
	_, err = c.ListMessages(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestPatchMessage_RewritesWithCondition(t *testing.T) {
	db := &fakeDynamo{updateOut: counterOut("2")}
	c := mustNewClient(t, db)
	_, err := c.AppendMessage(context.Background(), domain.Message{
		ConversationID: "abc",
		Sender:         domain.SenderAssistant,
		Content:        "text",
		Context:        &domain.RequestContext{Query: "q"},
	})
	require.NoError(t, err)
	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}

	done := true
	found, err := c.PatchMessage(context.Background(), "abc", "2", domain.MessagePatch{WasSummarized: &done, OfferResponse: "x"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "attribute_exists(PK) AND attribute_exists(SK)", *db.lastPutInput.ConditionExpression)
	require.True(t, db.lastPutInput.Item["wasSummarized"].(*types.AttributeValueMemberBOOL).Value)
	require.JSONEq(t, `{"query":"q","offerResponse":"x"}`, db.lastPutInput.Item["context"].(*types.AttributeValueMemberS).Value)
}

func TestPatchMessage_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	done := true
	found, err := c.PatchMessage(context.Background(), "abc", "9", domain.MessagePatch{WasSummarized: &done})
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, db.lastPutInput)
}

func TestSummary_PutAndGet(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	s := domain.Summary{ConversationID: "abc", MessageID: "4", HTML: "<p>x</p>", CreatedAt: fixedNow()}
	require.NoError(t, c.PutSummary(context.Background(), s))
	require.Equal(t, skSummary, db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	got, found, err := c.GetSummary(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, s, got)

	db.getOut = &dynamodb.GetItemOutput{}
	_, found, err = c.GetSummary(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, found)

	require.Error(t, c.PutSummary(context.Background(), domain.Summary{}))
}
