package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiryIndexRoundTrip(t *testing.T) {
	x := NewExpiryIndex()

	expiry := time.Now().Add(time.Hour)
	x.Set("acct_expiresOn_arm_t1", expiry)

	got, ok := x.Get("acct_expiresOn_arm_t1")
	assert.True(t, ok)
	assert.True(t, got.Equal(expiry))
}

func TestExpiryIndexMiss(t *testing.T) {
	x := NewExpiryIndex()

	_, ok := x.Get("nothing")
	assert.False(t, ok)
}

func TestExpiryIndexDelete(t *testing.T) {
	x := NewExpiryIndex()

	x.Set("k", time.Now())
	x.Delete("k")

	_, ok := x.Get("k")
	assert.False(t, ok)
}

func TestExpiryIndexDeleteByPrefix(t *testing.T) {
	x := NewExpiryIndex()

	x.Set("acct1_expiresOn_arm_t1", time.Now())
	x.Set("acct1_expiresOn_sql_t1", time.Now())
	x.Set("acct2_expiresOn_arm_t1", time.Now())

	x.DeleteByPrefix("acct1_")

	_, ok := x.Get("acct1_expiresOn_arm_t1")
	assert.False(t, ok)
	_, ok = x.Get("acct1_expiresOn_sql_t1")
	assert.False(t, ok)
	_, ok = x.Get("acct2_expiresOn_arm_t1")
	assert.True(t, ok)
}
