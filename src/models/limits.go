package models

// Limits bounds every variable-length field accepted from the network.
type Limits struct {
	ThreadCount             uint8 `mapstructure:"thread-count"`
	MaxListLength           int   `mapstructure:"max-list-length"`
	MaxDatastoreEntries     int   `mapstructure:"max-datastore-entries"`
	MaxDatastoreKeyLength   int   `mapstructure:"max-datastore-key-length"`
	MaxDatastoreValueLength int   `mapstructure:"max-datastore-value-length"`
	MaxBytecodeLength       int   `mapstructure:"max-bytecode-length"`
	MaxAsyncDataLength      int   `mapstructure:"max-async-data-length"`
	MaxHandlerLength        int   `mapstructure:"max-handler-length"`
	MaxChangedSlots         int   `mapstructure:"max-changed-slots"`
}

// DefaultLimits ...
func DefaultLimits() Limits {
	return Limits{
		ThreadCount:             32,
		MaxListLength:           10000,
		MaxDatastoreEntries:     1000,
		MaxDatastoreKeyLength:   255,
		MaxDatastoreValueLength: 10_000_000,
		MaxBytecodeLength:       10_000_000,
		MaxAsyncDataLength:      1_000_000,
		MaxHandlerLength:        255,
		MaxChangedSlots:         2048,
	}
}
