package etcd

import (
	"math"
	"strings"
	"time"
)

const (
	// SetsDir holds one prefix per set; each member is a key below it.
	SetsDir = "/batchq/sets/"
	// JobSaveDir holds job records, leased when the job has an expiry.
	JobSaveDir = "/batchq/jobs/"
	// BatchMetaDir holds batch metadata (id and creation time).
	BatchMetaDir = "/batchq/batch-meta/"
	// QueueDir holds one prefix per queue, ordered by create revision.
	QueueDir = "/batchq/queues/"

	// maxTxnOps stays within etcd's default --max-txn-ops.
	maxTxnOps = 128
)

func setPrefix(key string) string {
	return SetsDir + key + "/"
}

func memberKey(key, member string) string {
	return setPrefix(key) + member
}

func memberFromKey(key string, kvKey []byte) string {
	return strings.TrimPrefix(string(kvKey), setPrefix(key))
}

func jobKey(id string) string {
	return JobSaveDir + id
}

func batchMetaKey(id string) string {
	return BatchMetaDir + id
}

func queuePrefix(name string) string {
	return QueueDir + name + "/"
}

func queueKey(name, jobID string) string {
	return queuePrefix(name) + jobID
}

// leaseSeconds rounds a TTL up to whole seconds, the granularity of etcd leases.
func leaseSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// chunks splits items into slices of at most size elements.
func chunks(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func unixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
