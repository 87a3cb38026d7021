package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

const (
	skPrefixMsg     = "MSG#"
	skMeta          = "META#"
	skSummary       = "SUMMARY#"
	defaultTTL      = 24 * time.Hour
	msgSKDigits     = 12
	attrNextID      = "nextId"
	conditionNewKey = "attribute_not_exists(PK) AND attribute_not_exists(SK)"

	// maxItemBytes is DynamoDB's item size limit less room for the key and
	// bookkeeping attributes added after the size check.
	maxItemBytes = 400*1024 - 512
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores conversations in a single DynamoDB table:
//
//	PK=CONV#<id> SK=META#             message counter, last activity
//	PK=CONV#<id> SK=MSG#<000000000001> one item per message
//	PK=CONV#<id> SK=SUMMARY#           the current summary
//
// Every item carries a ttl attribute so abandoned sessions expire.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type ClientOption func(*Client)

// WithTTL sets how long conversation items live after their last write.
func WithTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...ClientOption) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for a message id. Ids are zero padded so the
// sort key order matches creation order.
func msgSK(id int64) string {
	return fmt.Sprintf("%s%0*d", skPrefixMsg, msgSKDigits, id)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(c.ttl).Unix()
}

func (c *Client) key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// nextMessageID atomically increments the conversation counter.
func (c *Client) nextMessageID(ctx context.Context, conversationID string) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(conversationID, skMeta),
		UpdateExpression: aws.String("ADD #next :one SET conversationId = :cid, lastActivity = :now, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#next": attrNextID,
			"#ttl":  "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":cid": &types.AttributeValueMemberS{Value: conversationID},
			":now": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: nextMessageID update: %w", err)
	}
	if out == nil {
		return 0, errors.New("repository: nextMessageID: empty response")
	}
	n, err := intAttr(out.Attributes, attrNextID)
	if err != nil {
		return 0, fmt.Errorf("repository: nextMessageID decode: %w", err)
	}
	return int64(n), nil
}

// AppendMessage allocates the next message id and writes the message.
func (c *Client) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return domain.Message{}, errors.New("repository: AppendMessage: conversation id is required")
	}
	item, err := c.messageAttrs(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	id, err := c.nextMessageID(ctx, msg.ConversationID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	msg.ID = strconv.FormatInt(id, 10)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now().UTC()
	}
	c.addMessageKey(item, msg, id)

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(conditionNewKey),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage put: %w", err)
	}
	return msg, nil
}

// GetMessage reads one message; found is false when it does not exist.
func (c *Client) GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, bool, error) {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil || id <= 0 {
		return domain.Message{}, false, nil
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(conversationID, msgSK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("repository: GetMessage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Message{}, false, nil
	}
	msg, err := itemToMessage(out.Item)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("repository: GetMessage unmarshal: %w", err)
	}
	return msg, true, nil
}

// ListMessages returns every message of a conversation in id order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// PatchMessage merges patch into a stored message. Only auxiliary fields
// change; found is false when the message does not exist.
func (c *Client) PatchMessage(ctx context.Context, conversationID, messageID string, patch domain.MessagePatch) (bool, error) {
	msg, found, err := c.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return false, fmt.Errorf("repository: PatchMessage: %w", err)
	}
	if !found {
		return false, nil
	}
	patch.Apply(&msg)

	id, _ := strconv.ParseInt(msg.ID, 10, 64)
	item, err := c.messageAttrs(msg)
	if err != nil {
		return false, fmt.Errorf("repository: PatchMessage: %w", err)
	}
	c.addMessageKey(item, msg, id)
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	})
	if err != nil {
		return false, fmt.Errorf("repository: PatchMessage put: %w", err)
	}
	return true, nil
}

// PutSummary replaces the conversation's current summary.
func (c *Client) PutSummary(ctx context.Context, s domain.Summary) error {
	if strings.TrimSpace(s.ConversationID) == "" {
		return errors.New("repository: PutSummary: conversation id is required")
	}
	item := c.key(s.ConversationID, skSummary)
	item["conversationId"] = &types.AttributeValueMemberS{Value: s.ConversationID}
	item["messageId"] = &types.AttributeValueMemberS{Value: s.MessageID}
	item["html"] = &types.AttributeValueMemberS{Value: s.HTML}
	item["createdAt"] = &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutSummary: %w", err)
	}
	return nil
}

// GetSummary reads the current summary; found is false when none exists.
func (c *Client) GetSummary(ctx context.Context, conversationID string) (domain.Summary, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(conversationID, skSummary),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("repository: GetSummary get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Summary{}, false, nil
	}
	messageID, err := strAttr(out.Item, "messageId")
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("repository: GetSummary: %w", err)
	}
	html, err := strAttr(out.Item, "html")
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("repository: GetSummary: %w", err)
	}
	createdAt, _ := timeAttr(out.Item, "createdAt")
	return domain.Summary{
		ConversationID: conversationID,
		MessageID:      messageID,
		HTML:           html,
		CreatedAt:      createdAt,
	}, true, nil
}

// messageAttrs encodes everything but the key, id and creation time. It
// fails with domain.ErrMessageTooLarge when the item would exceed DynamoDB's
// size limit.
func (c *Client) messageAttrs(msg domain.Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"sender":         &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"canSummarize":   &types.AttributeValueMemberBOOL{Value: msg.CanSummarize},
		"isError":        &types.AttributeValueMemberBOOL{Value: msg.IsError},
		"wasSummarized":  &types.AttributeValueMemberBOOL{Value: msg.WasSummarized},
		"generatedOffer": &types.AttributeValueMemberBOOL{Value: msg.GeneratedOffer},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}

	if msg.HasTable() {
		b, err := jsonx.Marshal(msg.Table)
		if err != nil {
			return nil, fmt.Errorf("encode table: %w", err)
		}
		item["table"] = &types.AttributeValueMemberS{Value: string(b)}
	}
	if msg.Context != nil {
		b, err := json.Marshal(msg.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		item["context"] = &types.AttributeValueMemberS{Value: string(b)}
	}
	if size := itemSize(item); size > maxItemBytes {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrMessageTooLarge, size)
	}
	return item, nil
}

func (c *Client) addMessageKey(item map[string]types.AttributeValue, msg domain.Message, id int64) {
	for k, v := range c.key(msg.ConversationID, msgSK(id)) {
		item[k] = v
	}
	item["id"] = &types.AttributeValueMemberS{Value: msg.ID}
	item["createdAt"] = &types.AttributeValueMemberS{Value: msg.CreatedAt.UTC().Format(time.RFC3339Nano)}
}

// itemSize approximates DynamoDB's item size: attribute names plus values.
func itemSize(item map[string]types.AttributeValue) int {
	n := 0
	for k, v := range item {
		n += len(k)
		switch v := v.(type) {
		case *types.AttributeValueMemberS:
			n += len(v.Value)
		case *types.AttributeValueMemberN:
			n += len(v.Value)
		case *types.AttributeValueMemberBOOL:
			n++
		}
	}
	return n
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty

	msg := domain.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         domain.Sender(sender),
		Content:        content,
		CanSummarize:   boolAttr(item, "canSummarize"),
		IsError:        boolAttr(item, "isError"),
		WasSummarized:  boolAttr(item, "wasSummarized"),
		GeneratedOffer: boolAttr(item, "generatedOffer"),
	}
	msg.CreatedAt, _ = timeAttr(item, "createdAt")

	if raw, err := strAttr(item, "table"); err == nil {
		var rows []*jsonx.Object
		if err := json.Unmarshal([]byte(raw), &rows); err != nil {
			return domain.Message{}, fmt.Errorf("repository: decode table: %w", err)
		}
		msg.Table = rows
	}
	if raw, err := strAttr(item, "context"); err == nil {
		var rc domain.RequestContext
		if err := json.Unmarshal([]byte(raw), &rc); err != nil {
			return domain.Message{}, fmt.Errorf("repository: decode context: %w", err)
		}
		msg.Context = &rc
	}
	return msg, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
