package etcd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemberKeyRoundTrip(t *testing.T) {
	k := memberKey("batch:42", "job-1")
	assert.Equal(t, "/batchq/sets/batch:42/job-1", k)
	assert.Equal(t, "job-1", memberFromKey("batch:42", []byte(k)))
}

func TestSetPrefixesDoNotOverlap(t *testing.T) {
	assert.NotContains(t, memberKey("batches", "b1"), setPrefix("batch"))
	assert.NotContains(t, memberKey("batch:1", "j"), setPrefix("batches"))
}

func TestLeaseSeconds(t *testing.T) {
	assert.Equal(t, int64(1), leaseSeconds(10*time.Millisecond))
	assert.Equal(t, int64(1), leaseSeconds(time.Second))
	assert.Equal(t, int64(2), leaseSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(500), leaseSeconds(500*time.Second))
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b"}}, chunks([]string{"a", "b"}, 2))
}
