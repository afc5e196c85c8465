package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// UploadKey is where a client PUTs the original photo for a job.
func UploadKey(jobID string) string {
	return path.Join("uploads", jobID, "source")
}

// OutputKey builds a content-addressed key for a compressed file. Identical
// bytes always land on the same key within a job.
func OutputKey(prefix, jobID, name string, data []byte) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "outputs"
	}
	return path.Join(prefix, jobID, fmt.Sprintf("%016x-%s", xxhash.Sum64(data), name))
}
