package dynamo

// DynamoDB attribute names used in expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
// Account two-factor attributes live in the domain package.
const (
	fieldUserID    = "user_id"
	fieldUpdatedAt = "updated_at"

	fieldTokenHash = "token_hash"
	fieldAccountID = "account_id"
	fieldIsRevoked = "is_revoked"
)
