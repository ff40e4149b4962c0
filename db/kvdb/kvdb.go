package kvdb

const (
	SyncBucket      = "sync"
	HeartbeatBucket = "heartbeat"
	SettingsBucket  = "settings"
)

var buckets = []string{SyncBucket, HeartbeatBucket, SettingsBucket}

type DB interface {
	Set(bucket string, key string, value string) error
	Get(bucket string, key string) (string, error)
	Delete(bucket string, key string) error
	GetAllKeys(bucket string) ([]string, error)
	Close() error
}
