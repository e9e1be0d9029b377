package domain

import "strings"

type Pipeline struct {
	Class                    string   `json:"_class,omitempty"`
	Name                     string   `json:"name"`
	FullName                 string   `json:"fullName,omitempty"`
	Organization             string   `json:"organization"`
	BranchNames              []string `json:"branchNames,omitempty"`
	WeatherScore             int      `json:"weatherScore,omitempty"`
	NumberOfQueuedPipelines  int      `json:"numberOfQueuedPipelines,omitempty"`
	NumberOfRunningPipelines int      `json:"numberOfRunningPipelines,omitempty"`
}

func (p Pipeline) IsMultiBranch() bool {
	return strings.Contains(p.Class, "MultiBranch") || len(p.BranchNames) > 0
}

// Branch is one branch of a multi-branch pipeline.
type Branch struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	WeatherScore int    `json:"weatherScore,omitempty"`
	LatestRun    *Run   `json:"latestRun,omitempty"`
}

// FindPipeline returns the pipeline with the given name.
func FindPipeline(pipelines []Pipeline, name string) (Pipeline, bool) {
	for _, p := range pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}

// FindBranch returns the branch with the given name.
func FindBranch(branches []Branch, name string) (Branch, bool) {
	for _, b := range branches {
		if b.Name == name {
			return b, true
		}
	}
	return Branch{}, false
}
