package refresh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusReuse    int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

// rotateScript is the linearization point for rotation. It reads the record,
// classifies it, and either performs the replace-and-issue transition or, for
// a terminal record, revokes every member of the family. Redis executes the
// script atomically, so concurrent rotations of one token ID serialize here:
// the first caller wins and every later caller sees a terminal record.
//
// ARGV: 1=key prefix, 2=provided secret hash, 3=now (unix ms),
// 4=new token id, 5=new secret hash.
const rotateScript = `
local res = redis.call("HGETALL", KEYS[1])
if #res == 0 then
  return {0}
end
local rec = {}
for i = 1, #res, 2 do
  rec[res[i]] = res[i + 1]
end

if rec.rby ~= "" or rec.rev ~= "0" then
  local famkey = ARGV[1] .. ":rf:" .. rec.fam
  local members = redis.call("SMEMBERS", famkey)
  for i = 1, #members do
    local k = ARGV[1] .. ":rt:" .. members[i]
    if redis.call("EXISTS", k) == 1 and redis.call("HGET", k, "rev") == "0" then
      redis.call("HSET", k, "rev", ARGV[3])
    end
  end
  return {1, rec.fam, rec.user}
end

if tonumber(rec.exp) <= tonumber(ARGV[3]) then
  return {2}
end

if rec.hash ~= ARGV[2] then
  return {3}
end

redis.call("HSET", KEYS[1], "rby", ARGV[4])
local newkey = ARGV[1] .. ":rt:" .. ARGV[4]
redis.call("HSET", newkey,
  "fam", rec.fam,
  "user", rec.user,
  "hash", ARGV[5],
  "iat", ARGV[3],
  "exp", rec.exp,
  "rev", "0",
  "rby", "")
redis.call("PEXPIREAT", newkey, tonumber(rec.exp))
local famkey = ARGV[1] .. ":rf:" .. rec.fam
redis.call("SADD", famkey, ARGV[4])
return {4, rec.fam, rec.user, tonumber(rec.exp)}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeFamilyScript marks every live member of a family revoked.
// ARGV: 1=key prefix, 2=now (unix ms).
const revokeFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
for i = 1, #members do
  local k = ARGV[1] .. ":rt:" .. members[i]
  if redis.call("EXISTS", k) == 1 and redis.call("HGET", k, "rev") == "0" then
    redis.call("HSET", k, "rev", ARGV[2])
  end
end
return #members
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

// RedisStore is the primary [Store] backend. Records live in hashes keyed by
// token ID, family membership in sets, and every key expires at the family
// deadline, so expired state needs no sweeper.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	familyTTL time.Duration
}

// NewRedisStore builds a store on the given client. prefix namespaces all
// keys; familyTTL is the absolute family lifetime.
func NewRedisStore(client redis.UniversalClient, prefix string, familyTTL time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("nil redis client")
	}
	if prefix == "" {
		return nil, errors.New("empty key prefix")
	}
	if familyTTL <= 0 {
		return nil, errors.New("family TTL must be positive")
	}

	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		familyTTL: familyTTL,
	}, nil
}

func (s *RedisStore) tokenKey(tokenID string) string {
	return s.prefix + ":rt:" + tokenID
}

func (s *RedisStore) familyKey(familyID string) string {
	return s.prefix + ":rf:" + familyID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":ru:" + userID
}

// Issue mints the root token of a new family.
func (s *RedisStore) Issue(ctx context.Context, userID string) (*Issued, error) {
	if userID == "" {
		return nil, errors.New("empty user id")
	}

	tokenID, err := NewTokenID()
	if err != nil {
		return nil, err
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &Record{
		TokenID:   tokenID,
		FamilyID:  uuid.NewString(),
		UserID:    userID,
		TokenHash: HashSecret(secret),
		IssuedAt:  now,
		ExpiresAt: familyDeadline(now, s.familyTTL),
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.tokenKey(tokenID), map[string]interface{}{
		"fam":  record.FamilyID,
		"user": record.UserID,
		"hash": hex.EncodeToString(record.TokenHash[:]),
		"iat":  record.IssuedAt.UnixMilli(),
		"exp":  record.ExpiresAt.UnixMilli(),
		"rev":  "0",
		"rby":  "",
	})
	pipe.PExpireAt(ctx, s.tokenKey(tokenID), record.ExpiresAt)
	pipe.SAdd(ctx, s.familyKey(record.FamilyID), tokenID)
	pipe.PExpireAt(ctx, s.familyKey(record.FamilyID), record.ExpiresAt)
	pipe.SAdd(ctx, s.userKey(userID), record.FamilyID)
	// New families always carry the latest deadline, so this only ever
	// extends the user index.
	pipe.PExpireAt(ctx, s.userKey(userID), record.ExpiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token, err := EncodeToken(tokenID, secret)
	if err != nil {
		return nil, err
	}

	return &Issued{Token: token, Record: record}, nil
}

// Rotate exchanges an active token for a child in the same family. See
// rotateScript for the atomicity argument.
func (s *RedisStore) Rotate(ctx context.Context, tokenID string, secret [SecretSize]byte) (*Issued, error) {
	newID, err := NewTokenID()
	if err != nil {
		return nil, err
	}
	childSecret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	providedHash := HashSecret(secret)
	newHash := HashSecret(childSecret)
	now := time.Now()

	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.tokenKey(tokenID)},
		s.prefix,
		hex.EncodeToString(providedHash[:]),
		now.UnixMilli(),
		newID,
		hex.EncodeToString(newHash[:]),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply", ErrStoreUnavailable)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status", ErrStoreUnavailable)
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrTokenNotFound
	case rotateStatusReuse:
		return nil, ErrReuseDetected
	case rotateStatusExpired:
		return nil, ErrTokenExpired
	case rotateStatusMismatch:
		return nil, ErrSecretMismatch
	case rotateStatusRotated:
		if len(reply) != 4 {
			return nil, fmt.Errorf("%w: unexpected rotate reply", ErrStoreUnavailable)
		}
		familyID, _ := reply[1].(string)
		userID, _ := reply[2].(string)
		expMs, _ := reply[3].(int64)

		record := &Record{
			TokenID:   newID,
			FamilyID:  familyID,
			UserID:    userID,
			TokenHash: newHash,
			IssuedAt:  now,
			ExpiresAt: time.UnixMilli(expMs),
		}

		token, err := EncodeToken(newID, childSecret)
		if err != nil {
			return nil, err
		}
		return &Issued{Token: token, Record: record}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrStoreUnavailable, status)
	}
}

// Get returns the record for tokenID.
func (s *RedisStore) Get(ctx context.Context, tokenID string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}

	return decodeRecord(tokenID, fields)
}

// RevokeFamily marks every live record of the family revoked. Unknown or
// already-revoked families are a no-op.
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) error {
	err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		s.prefix,
		time.Now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll revokes every family belonging to userID ("log out everywhere").
func (s *RedisStore) RevokeAll(ctx context.Context, userID string) error {
	families, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, familyID := range families {
		if err := s.RevokeFamily(ctx, familyID); err != nil {
			return err
		}
	}
	return nil
}

func decodeRecord(tokenID string, fields map[string]string) (*Record, error) {
	corrupt := func() error {
		return fmt.Errorf("%w: corrupt record for token", ErrStoreUnavailable)
	}

	hashRaw, err := hex.DecodeString(fields["hash"])
	if err != nil || len(hashRaw) != 32 {
		return nil, corrupt()
	}

	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return nil, corrupt()
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, corrupt()
	}
	rev, err := strconv.ParseInt(fields["rev"], 10, 64)
	if err != nil {
		return nil, corrupt()
	}

	record := &Record{
		TokenID:    tokenID,
		FamilyID:   fields["fam"],
		UserID:     fields["user"],
		IssuedAt:   time.UnixMilli(iat),
		ExpiresAt:  time.UnixMilli(exp),
		ReplacedBy: fields["rby"],
	}
	copy(record.TokenHash[:], hashRaw)
	if rev != 0 {
		record.RevokedAt = time.UnixMilli(rev)
	}

	return record, nil
}
