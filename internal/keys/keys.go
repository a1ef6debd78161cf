// Package keys maps account entities onto the single-table key layout.
//
//	User profile:    PK=USER#<userId>      SK=PROFILE
//	Email:           PK=USER#<userId>      SK=EMAIL#<emailId>
//	                 GSI1PK=EMAIL#<email>  GSI1SK=USER#<userId>
//	Email guard:     PK=EMAIL#<email>      SK=UNIQUE
//
// Every email is normalized before it becomes part of a key.
package keys

import "strings"

// Attribute names of the table and its secondary index.
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
)

const (
	userPrefix  = "USER#"
	emailPrefix = "EMAIL#"

	// ProfileSK is the sort key of a user profile item.
	ProfileSK = "PROFILE"

	// GuardSK is the sort key of an email uniqueness guard item.
	GuardSK = "UNIQUE"

	// EmailPrefix is the sort key prefix shared by all email items of a user.
	EmailPrefix = emailPrefix
)

// Key is a primary key in the base table.
type Key struct {
	PK string
	SK string
}

// IndexKey is a key in the GSI1 secondary index.
type IndexKey struct {
	PK string
	SK string
}

// Normalize lowercases and trims an email address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserPK returns the partition shared by a user and all of its emails.
func UserPK(userID string) string {
	return userPrefix + userID
}

// User returns the key of a user profile item.
func User(userID string) Key {
	return Key{PK: UserPK(userID), SK: ProfileSK}
}

// Email returns the key of an email item owned by userID.
func Email(userID, emailID string) Key {
	return Key{PK: UserPK(userID), SK: emailPrefix + emailID}
}

// EmailIndex returns the reverse-lookup index key stored on an email item.
func EmailIndex(email, userID string) IndexKey {
	return IndexKey{PK: EmailLookup(email), SK: UserPK(userID)}
}

// EmailLookup returns the GSI1 partition used for existence checks.
func EmailLookup(email string) string {
	return emailPrefix + Normalize(email)
}

// EmailGuard returns the key of the item that reserves an email system-wide.
// Writing it with an absence condition is what makes email uniqueness atomic.
func EmailGuard(email string) Key {
	return Key{PK: emailPrefix + Normalize(email), SK: GuardSK}
}

// UserIDFromPK strips the user prefix from a partition or index sort key.
// It returns false when the value is not a user key.
func UserIDFromPK(pk string) (string, bool) {
	if !strings.HasPrefix(pk, userPrefix) || len(pk) == len(userPrefix) {
		return "", false
	}
	return strings.TrimPrefix(pk, userPrefix), true
}
