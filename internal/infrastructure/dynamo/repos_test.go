package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-establishment-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockDynamo struct{ mock.Mock }

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

// --- helpers ---

func keyValue(key map[string]types.AttributeValue, name string) string {
	if v, ok := key[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func hashItem(hash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{fieldTokenHash: &types.AttributeValueMemberS{Value: hash}}
}

func revokeOf(hash string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return keyValue(in.Key, fieldTokenHash) == hash
	})
}

func rotationPair() (*domain.RefreshToken, *domain.RefreshToken) {
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	old := &domain.RefreshToken{TokenHash: "old-hash", ID: "01A", AccountID: "acc-1", ExpiresAt: exp}
	next := &domain.RefreshToken{TokenHash: "new-hash", ID: "01B", AccountID: "acc-1", ExpiresAt: exp.Add(time.Hour)}
	return old, next
}

// --- refresh tokens: Rotate ---

func TestRotate_BuildsConditionalTransaction(t *testing.T) {
	db := &mockDynamo{}
	var got *dynamodb.TransactWriteItemsInput
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	old, next := rotationPair()
	require.NoError(t, NewRefreshTokenRepo(db, "refresh_tokens").Rotate(context.Background(), old, next))

	require.NotNil(t, got)
	require.Len(t, got.TransactItems, 2)

	upd := got.TransactItems[0].Update
	require.NotNil(t, upd)
	assert.Equal(t, "refresh_tokens", aws.ToString(upd.TableName))
	assert.Equal(t, "old-hash", keyValue(upd.Key, fieldTokenHash))
	assert.Equal(t, "attribute_exists(#h) AND #r = :f", aws.ToString(upd.ConditionExpression))
	assert.Equal(t, fieldIsRevoked, upd.ExpressionAttributeNames["#r"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, upd.ExpressionAttributeValues[":f"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, upd.ExpressionAttributeValues[":t"])

	put := got.TransactItems[1].Put
	require.NotNil(t, put)
	assert.Equal(t, "attribute_not_exists(#h)", aws.ToString(put.ConditionExpression))
	assert.Equal(t, fieldTokenHash, put.ExpressionAttributeNames["#h"])
	assert.Equal(t, "new-hash", keyValue(put.Item, fieldTokenHash))
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, put.Item[fieldIsRevoked])
	assert.Equal(t, next.ExpiresAt.Add(retention).Unix(), next.TTL)
}

func TestRotate_CancellationReasons(t *testing.T) {
	cases := []struct {
		name     string
		codes    []string
		conflict bool
	}{
		{"old record already revoked", []string{"ConditionalCheckFailed", "None"}, true},
		{"new hash already present", []string{"None", "ConditionalCheckFailed"}, true},
		{"concurrent transaction", []string{"TransactionConflict", "None"}, true},
		{"throttled", []string{"ThrottlingError", "None"}, false},
		{"validation", []string{"ValidationError", "None"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &mockDynamo{}
			db.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(tc.codes...))

			old, next := rotationPair()
			err := NewRefreshTokenRepo(db, "refresh_tokens").Rotate(context.Background(), old, next)
			require.Error(t, err)
			assert.Equal(t, tc.conflict, errors.Is(err, domain.ErrConflict))
		})
	}
}

// --- refresh tokens: RevokeAll ---

func TestRevokeAll_PaginatesAndCountsChangedRecords(t *testing.T) {
	db := &mockDynamo{}
	var firstQuery *dynamodb.QueryInput
	db.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Run(func(args mock.Arguments) { firstQuery = args.Get(1).(*dynamodb.QueryInput) }).
		Return(&dynamodb.QueryOutput{
			Items:            []map[string]types.AttributeValue{hashItem("h1"), hashItem("h2")},
			LastEvaluatedKey: hashItem("h2"),
		}, nil).Once()
	db.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey != nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{hashItem("h3")}}, nil).Once()

	db.On("UpdateItem", mock.Anything, revokeOf("h1")).Return(&dynamodb.UpdateItemOutput{}, nil)
	// h2 was revoked between the query and the write.
	db.On("UpdateItem", mock.Anything, revokeOf("h2")).Return(nil, &types.ConditionalCheckFailedException{})
	db.On("UpdateItem", mock.Anything, revokeOf("h3")).Return(&dynamodb.UpdateItemOutput{}, nil)

	n, err := NewRefreshTokenRepo(db, "refresh_tokens").RevokeAll(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	db.AssertNumberOfCalls(t, "Query", 2)
	db.AssertNumberOfCalls(t, "UpdateItem", 3)

	require.NotNil(t, firstQuery)
	assert.Equal(t, accountIndex, aws.ToString(firstQuery.IndexName))
	assert.Equal(t, "#r = :f", aws.ToString(firstQuery.FilterExpression))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "acc-1"}, firstQuery.ExpressionAttributeValues[":aid"])
}

func TestRevokeAll_ContinuesAfterWriteErrorAndReportsIt(t *testing.T) {
	db := &mockDynamo{}
	db.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{hashItem("h1"), hashItem("h2")},
	}, nil).Once()
	boom := errors.New("throttled")
	db.On("UpdateItem", mock.Anything, revokeOf("h1")).Return(nil, boom)
	db.On("UpdateItem", mock.Anything, revokeOf("h2")).Return(&dynamodb.UpdateItemOutput{}, nil)

	n, err := NewRefreshTokenRepo(db, "refresh_tokens").RevokeAll(context.Background(), "acc-1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestRevoke_AlreadyRevokedIsNoop(t *testing.T) {
	db := &mockDynamo{}
	db.On("UpdateItem", mock.Anything, revokeOf("h1")).Return(nil, &types.ConditionalCheckFailedException{})

	err := NewRefreshTokenRepo(db, "refresh_tokens").Revoke(context.Background(), &domain.RefreshToken{TokenHash: "h1"})
	assert.NoError(t, err)
}

// --- users: UpdateRecoveryCodes / Update ---

func TestUpdateRecoveryCodes_ConditionedOnScannedList(t *testing.T) {
	db := &mockDynamo{}
	var got *dynamodb.UpdateItemInput
	db.On("UpdateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(&dynamodb.UpdateItemOutput{}, nil)

	expected := []string{"hash-a", "hash-b"}
	err := NewUserRepo(db, "users").UpdateRecoveryCodes(context.Background(), "acc-1", expected, []string{"hash-b"})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "acc-1", keyValue(got.Key, fieldUserID))
	assert.Equal(t, "#rc = :expected", aws.ToString(got.ConditionExpression))
	assert.Equal(t, "SET #rc = :next, #ua = :now", aws.ToString(got.UpdateExpression))
	assert.Equal(t, domain.FieldRecoveryCodeHashes, got.ExpressionAttributeNames["#rc"])

	var gotExpected, gotNext []string
	require.NoError(t, attributevalue.Unmarshal(got.ExpressionAttributeValues[":expected"], &gotExpected))
	require.NoError(t, attributevalue.Unmarshal(got.ExpressionAttributeValues[":next"], &gotNext))
	assert.Equal(t, expected, gotExpected)
	assert.Equal(t, []string{"hash-b"}, gotNext)
}

func TestUpdateRecoveryCodes_LastCodeRemovesAttribute(t *testing.T) {
	db := &mockDynamo{}
	var got *dynamodb.UpdateItemInput
	db.On("UpdateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, NewUserRepo(db, "users").UpdateRecoveryCodes(context.Background(), "acc-1", []string{"hash-a"}, nil))
	assert.Equal(t, "SET #ua = :now REMOVE #rc", aws.ToString(got.UpdateExpression))
	_, hasNext := got.ExpressionAttributeValues[":next"]
	assert.False(t, hasNext)
}

func TestUpdateRecoveryCodes_ConcurrentChangeIsConflict(t *testing.T) {
	db := &mockDynamo{}
	db.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

	err := NewUserRepo(db, "users").UpdateRecoveryCodes(context.Background(), "acc-1", []string{"a"}, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserUpdate_MissingUserIsNotFound(t *testing.T) {
	db := &mockDynamo{}
	var got *dynamodb.UpdateItemInput
	db.On("UpdateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(nil, &types.ConditionalCheckFailedException{})

	err := NewUserRepo(db, "users").Update(context.Background(), "ghost", map[string]interface{}{domain.FieldOTPMethod: nil})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "attribute_exists(#pk)", aws.ToString(got.ConditionExpression))
	assert.Contains(t, aws.ToString(got.UpdateExpression), "REMOVE")
}
