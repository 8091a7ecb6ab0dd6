package types

// InputToken is the placeholder in run_args that the fuzzer (not the
// orchestrator) replaces with the path of the input under test.
const InputToken = "@@"

// BuildVariant is one discovered build of the target under test.
// Immutable once enumerated by build discovery.
type BuildVariant struct {
	Kind       BuildKind `json:"kind"`
	Dir        string    `json:"dir"`         // <suite>/<kind name>
	BinaryPath string    `json:"binary_path"` // first executable found in Dir
}

// ReproduceSpec maps a build's binary path to the sync-directory
// subdirectories whose crash and hang collections should be replayed
// against it.
type ReproduceSpec map[string][]string

// FindingKind distinguishes what a watched fuzzer directory produced.
type FindingKind int

const (
	FindingCrash FindingKind = iota
	FindingHang
)

func (k FindingKind) String() string {
	if k == FindingHang {
		return "hang"
	}
	return "crash"
}

// FindingMessage announces a new crash or hang file written by a running
// fuzzer instance.
type FindingMessage struct {
	Kind     FindingKind
	Path     string // path to the sample on the local filesystem
	Instance string // fuzzer instance name that produced it
}
