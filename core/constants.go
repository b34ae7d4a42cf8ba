package core

import "time"

// Queue and lease keys shared with other validators through Redis.
const (
	QueueKey      = "COGNIFY_QUERY_QUEUE"
	TaskIDSetKey  = "COGNIFY_QUERY_TASK_IDS"
	LeaseKeyBase  = "miner_task:"
	StateKeySufix = "_state:current"
)

// Dispatch and scoring constants.
const (
	CharacterToTokenConversion = 4.0
	FraudSentinel              = -10.0
	FraudResponseTime          = 999.0
	SlowResponseCutoff         = 30.0

	DispatchRetries  = 3
	DispatchBackoff  = 30 * time.Second
	LeaseTTL         = 1800 * time.Second
	HandshakeTimeout = 10 * time.Second

	HandshakeInterval       = 600 * time.Second
	MaxConcurrentHandshakes = 10

	DequeueTimeout    = 5 * time.Second
	FetchInterval     = 90 * time.Second
	RefillBatchSize   = 20
	ProducerBatchSize = 40
	ProducerIdleSleep = 60 * time.Second

	DefaultQueryTimeout = 30 * time.Second
	ConfigCallTimeout   = 25 * time.Second
)

// Weight-engine mix. The three shares are constants in the protocol; they
// are grouped here so the blend reads in one place.
const (
	StakeWeightShare       = 0.2
	CurrentScoreShare      = 0.7
	HistoricalScoreShare   = 0.1
	FinalMinScore          = 0.8
	MinWeightThreshold     = 0.001
	HistoryAlpha           = 0.3
	DefaultHistoricalScore = 0.95
	HistoryRetention       = 24 * time.Hour
)

// APIVersion is appended to versioned config-service endpoints.
const APIVersion = "v1.0.1"
