// Package app wires configuration, the HEC sink, archives and the collector into a runtime
// shared by the daemon and the Lambda handler.
package app

import "time"

// Options are the process settings, read from flags or the environment with go-arg
type Options struct {
	Integrations string        `arg:"--integrations,env:AUTHHEC_INTEGRATIONS" default:"integrations.yaml" help:"integrations file (yaml, json or toml)"`
	LogLevel     string        `arg:"--log-level,env:LOG_LEVEL" default:"info"`
	LogFormat    string        `arg:"--log-format,env:LOG_FORMAT" default:"json" help:"json or console"`
	FetchTimeout time.Duration `arg:"--fetch-timeout,env:FETCH_TIMEOUT" default:"30s"`
	RedisURL     string        `arg:"--redis-url,env:REDIS_URL" help:"share run locks between replicas, example: redis://localhost:6379/0"`
	LockTTL      time.Duration `arg:"--lock-ttl,env:LOCK_TTL" default:"15m"`

	Region        string        `arg:"--region,env:AWS_REGION" default:"ap-southeast-2"`
	Endpoints     []string      `arg:"--hec-endpoints,env:HEC_ENDPOINTS"`
	TLSSkipVerify bool          `arg:"--hec-tls-skip-verify,env:HEC_TLS_SKIP_VERIFY"`
	Proxy         string        `arg:"--hec-proxy,env:HEC_PROXY"`
	Token         string        `arg:"--hec-token,env:HEC_TOKEN" help:"token or arn:aws:secretsmanager: reference"`
	ChannelID     string        `arg:"--hec-channel,env:HEC_CHANNEL_ID"`
	Index         string        `arg:"--hec-index,env:HEC_INDEX" default:"main"`
	Source        string        `arg:"--hec-source,env:HEC_SOURCE" help:"defaults to the integration name"`
	Sourcetype    string        `arg:"--hec-sourcetype,env:HEC_SOURCETYPE" default:"authhec:event"`
	Host          string        `arg:"--hec-host,env:HEC_HOST"`
	BatchTimeout  time.Duration `arg:"--hec-batch-timeout,env:HEC_BATCH_TIMEOUT" default:"30s"`
	Balance       string        `arg:"--hec-balance,env:HEC_BALANCE" default:"roundrobin"`
	BatchSize     int           `arg:"--hec-batch-size,env:HEC_BATCH_SIZE" default:"500"`
	BatchBytes    int           `arg:"--hec-batch-bytes,env:HEC_BATCH_BYTES" default:"1048576"`
	MaxAttempts   int           `arg:"--hec-max-attempts,env:HEC_MAX_ATTEMPTS" default:"3"`

	S3URL                        string `arg:"--s3-url,env:S3_URL" help:"failure archive, example: https://YOURBUCKET.s3.ap-southeast-2.amazonaws.com/YOURFOLDER/"`
	S3AccessKeyID                string `arg:"--s3-access-key-id,env:S3_ACCESS_KEY_ID"`
	S3AccessKeySecret            string `arg:"--s3-access-key-secret,env:S3_ACCESS_KEY_SECRET"`
	S3ColdStorageURL             string `arg:"--s3-cold-storage-url,env:S3_COLD_STORAGE_URL" help:"copy of every batch, example: https://YOURBUCKET.s3.ap-southeast-2.amazonaws.com/YOURFOLDER/"`
	S3ColdStorageAccessKeyID     string `arg:"--s3-cold-storage-access-key-id,env:S3_COLD_STORAGE_ACCESS_KEY_ID"`
	S3ColdStorageAccessKeySecret string `arg:"--s3-cold-storage-access-key-secret,env:S3_COLD_STORAGE_ACCESS_KEY_SECRET"`
	S3Compression                string `arg:"--s3-compression,env:S3_COMPRESSION" default:"gzip" help:"gzip or none"`
}
