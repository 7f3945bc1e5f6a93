package workspace

// Manifest partitions the files of a job workspace into the inputs
// supplied by the caller and the outputs produced during execution.
// Each name maps to its download URL. A file appears in exactly one
// of the two maps, and every file in the workspace appears.
type Manifest struct {
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

// Categorize classifies files by membership in inputNames and resolves
// each to a URL via urlFor. Pure: it never touches the filesystem.
func Categorize(files []string, inputNames []string, urlFor func(name string) string) Manifest {
	inputs := make(map[string]struct{}, len(inputNames))
	for _, n := range inputNames {
		inputs[n] = struct{}{}
	}
	m := Manifest{
		Inputs:  map[string]string{},
		Outputs: map[string]string{},
	}
	for _, f := range files {
		if _, ok := inputs[f]; ok {
			m.Inputs[f] = urlFor(f)
		} else {
			m.Outputs[f] = urlFor(f)
		}
	}
	return m
}
