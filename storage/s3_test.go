package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	plain := &S3Store{cfg: S3Config{Bucket: "scrapes", Region: "us-east-1"}}
	assert.Equal(t,
		"https://scrapes.s3.us-east-1.amazonaws.com/results.json",
		plain.PublicURL("results.json"))

	spaces := &S3Store{cfg: S3Config{
		Bucket:   "scrapes",
		Endpoint: "https://nyc3.digitaloceanspaces.com",
	}}
	assert.Equal(t,
		"https://scrapes.nyc3.digitaloceanspaces.com/results.json",
		spaces.PublicURL("results.json"))
}
