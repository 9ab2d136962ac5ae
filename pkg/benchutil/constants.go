package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// Standard benchmark sizes (positions per chromosome) for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger sizes for scaling runs.
// Used with COVSTAT_LONG_BENCH=1.
var ScalingSizes = []int{250000, 1000000, 5000000}

// SampleCounts are the standard sample counts per record.
var SampleCounts = []int{1, 4, 16}
