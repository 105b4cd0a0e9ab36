package batch

import "time"

// Constants defining default values for configuration options. These are the
// values viper defaults are seeded with during configuration loading.
const (
	// DefaultWorkerCount is the default size of the conversion worker pool.
	DefaultWorkerCount = 3
	// DefaultConflictPolicy is the default behavior on output path collisions.
	DefaultConflictPolicy = PolicyRename
	// DefaultRenamePattern is the template used to derive alternative output
	// paths under the rename policy.
	DefaultRenamePattern = "{stem}_{n}{ext}"
	// DefaultOutputFormat is the default format for the final summary.
	DefaultOutputFormat = OutputFormatText
	// DefaultFailureThreshold is the number of consecutive conversion
	// failures that trips the circuit breaker.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long the breaker stays open before allowing
	// a trial call.
	DefaultResetTimeout = 30 * time.Second
	// DefaultFallbackMaxRetries bounds retries of a single fallback strategy.
	DefaultFallbackMaxRetries = 2
	// DefaultFallbackDelay is the base delay between fallback retry attempts.
	DefaultFallbackDelay = 500 * time.Millisecond
	// DefaultAskTimeout bounds how long a worker blocks waiting for an
	// ask-user conflict answer before degrading to skip.
	DefaultAskTimeout = 30 * time.Second
	// DefaultTuiEnabled is the default state for the terminal UI.
	DefaultTuiEnabled = true
	// DefaultVerbose is the default state for debug logging.
	DefaultVerbose = false
)

// renameAttemptCap is the hard limit on rename probes for a single task.
// Exceeding it fails the task with ErrRenameLimit.
const renameAttemptCap = 1000

// etaSmoothing is the weight given to the newest completed-task duration in
// the exponential moving average used for ETA estimation.
const etaSmoothing = 0.3

// ReportSchemaVersion indicates the version of the JSON result structure.
const ReportSchemaVersion = "1.0"
