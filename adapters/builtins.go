package adapters

// NOTE: If build bloat becomes a concern for unused stores
// look into build tags i.e. +build !nos3
// or nested packages with init() and main app can include just importing
// import (_ github.com/.../adapters/s3)

type BuiltInStoreType = string

const (
	MemoryStoreType BuiltInStoreType = "memory"
	BadgerStoreType BuiltInStoreType = "badger"
	S3StoreType     BuiltInStoreType = "s3"
)

// RegisterBuiltins registers all built-in stores by default
// or only the specific ones if keys are provided
func RegisterBuiltins(stores ...BuiltInStoreType) {
	if len(stores) == 0 {
		stores = append(stores, MemoryStoreType, BadgerStoreType, S3StoreType)
	}

	for _, key := range stores {
		switch key {
		case MemoryStoreType:
			RegisterMemory()
		case BadgerStoreType:
			RegisterBadger()
		case S3StoreType:
			RegisterS3()
		}
	}
}
