package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-establishment-auth/internal/domain"
)

const accountIndex = "account_id-index"

// RefreshTokenRepo provides typed DynamoDB operations for the refresh_tokens
// table. The partition key is the token hash, so a hash can only ever map to
// one record.
type RefreshTokenRepo struct {
	client    API
	tableName string
}

func NewRefreshTokenRepo(client API, tableName string) *RefreshTokenRepo {
	return &RefreshTokenRepo{client: client, tableName: tableName}
}

// Issue stores a new active record. A record with the same hash already
// present returns domain.ErrConflict.
func (r *RefreshTokenRepo) Issue(ctx context.Context, t *domain.RefreshToken) error {
	item, err := r.marshal(t)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#h)"),
		ExpressionAttributeNames: map[string]string{"#h": fieldTokenHash},
	})
	return mapConditionErr(err, domain.ErrConflict)
}

// GetByHash returns the record for hash in any state.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldTokenHash, hash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("refresh token: %w", domain.ErrNotFound)
	}
	var t domain.RefreshToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindActiveByHash returns the record only while it is not revoked.
func (r *RefreshTokenRepo) FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	t, err := r.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if t.IsRevoked {
		return nil, fmt.Errorf("refresh token revoked: %w", domain.ErrNotFound)
	}
	return t, nil
}

// Revoke flips an active record to revoked. Revoking an already revoked or
// missing record is a no-op.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.revoke(ctx, t.TokenHash)
	return err
}

// RevokeAll revokes every active record of the account and returns how many
// records changed state.
func (r *RefreshTokenRepo) RevokeAll(ctx context.Context, accountID string) (int, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(accountIndex),
		KeyConditionExpression: aws.String("#a = :aid"),
		FilterExpression:       aws.String("#r = :f"),
		ExpressionAttributeNames: map[string]string{
			"#a": fieldAccountID,
			"#r": fieldIsRevoked,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: accountID},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
	})

	revoked := 0
	var firstErr error
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return revoked, err
		}
		for _, item := range page.Items {
			h, ok := item[fieldTokenHash].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			changed, err := r.revoke(ctx, h.Value)
			if err != nil {
				slog.Warn("failed to revoke refresh token", "account_id", accountID, "err", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if changed {
				revoked++
			}
		}
	}
	return revoked, firstErr
}

// Rotate revokes old and stores next in a single transaction. If old is no
// longer active, or next's hash already exists, nothing is written and
// domain.ErrConflict is returned.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, old, next *domain.RefreshToken) error {
	item, err := r.marshal(next)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(r.tableName),
					Key:                 strKey(fieldTokenHash, old.TokenHash),
					UpdateExpression:    aws.String("SET #r = :t"),
					ConditionExpression: aws.String("attribute_exists(#h) AND #r = :f"),
					ExpressionAttributeNames: map[string]string{
						"#h": fieldTokenHash,
						"#r": fieldIsRevoked,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":t": &types.AttributeValueMemberBOOL{Value: true},
						":f": &types.AttributeValueMemberBOOL{Value: false},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:                aws.String(r.tableName),
					Item:                     item,
					ConditionExpression:      aws.String("attribute_not_exists(#h)"),
					ExpressionAttributeNames: map[string]string{"#h": fieldTokenHash},
				},
			},
		},
	})
	return mapConditionErr(err, domain.ErrConflict)
}

// revoke reports whether the record changed from active to revoked.
func (r *RefreshTokenRepo) revoke(ctx context.Context, hash string) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldTokenHash, hash),
		UpdateExpression:    aws.String("SET #r = :t"),
		ConditionExpression: aws.String("attribute_exists(#h) AND #r = :f"),
		ExpressionAttributeNames: map[string]string{
			"#h": fieldTokenHash,
			"#r": fieldIsRevoked,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// marshal fills the TTL attribute from ExpiresAt before encoding.
func (r *RefreshTokenRepo) marshal(t *domain.RefreshToken) (map[string]types.AttributeValue, error) {
	if t.TTL == 0 && !t.ExpiresAt.IsZero() {
		t.TTL = ttlFor(t.ExpiresAt)
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return nil, fmt.Errorf("marshal refresh token: %w", err)
	}
	return item, nil
}

// retention is how long a record outlives its expiry before the TTL sweep
// deletes it. Until then a replayed token still hits a revoked record.
const retention = 30 * 24 * time.Hour

func ttlFor(expiresAt time.Time) int64 {
	return expiresAt.Add(retention).Unix()
}
