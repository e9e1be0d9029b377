// Package address builds canonical Blue Ocean REST URLs. The URLs double as
// cache keys, so the same navigation context always yields the same string.
package address

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultOrganization = "jenkins"

// Context identifies a pipeline, and optionally a branch, run and node.
type Context struct {
	BaseURL       string
	Organization  string
	Pipeline      string
	Branch        string
	RunID         string
	IsMultiBranch bool
	Node          string
}

func (c Context) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required")
	}
	if strings.TrimSpace(c.Pipeline) == "" {
		return errors.New("pipeline is required")
	}
	if c.IsMultiBranch && strings.TrimSpace(c.Branch) == "" {
		return errors.New("branch is required for multi-branch pipelines")
	}
	return nil
}

func (c Context) WithNode(node string) Context {
	c.Node = node
	return c
}

func (c Context) WithRun(runID string) Context {
	c.RunID = runID
	return c
}

func (c Context) org() string {
	if c.Organization == "" {
		return DefaultOrganization
	}
	return c.Organization
}

func (c Context) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Segment escapes a pipeline or branch name for use as one path segment.
// Jenkins decodes the path once before routing, so the %2F produced for an
// embedded slash is escaped again to survive that decode.
func Segment(name string) string {
	return strings.ReplaceAll(encodeURIComponent(name), "%2F", "%252F")
}

func PipelinesURL(baseURL, organization string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if organization == "" {
		return baseURL + "/rest/search/?q=type:pipeline"
	}
	return fmt.Sprintf("%s/rest/organizations/%s/pipelines/", baseURL, Segment(organization))
}

// OrganizationURL is used as a cheap readiness probe.
func OrganizationURL(baseURL, organization string) string {
	if organization == "" {
		organization = DefaultOrganization
	}
	return fmt.Sprintf("%s/rest/organizations/%s/", strings.TrimRight(baseURL, "/"), Segment(organization))
}

func PipelineURL(c Context) string {
	return fmt.Sprintf("%s/rest/organizations/%s/pipelines/%s", c.base(), Segment(c.org()), Segment(c.Pipeline))
}

func RunsURL(c Context) string {
	return PipelineURL(c) + "/runs/"
}

func BranchesURL(c Context) string {
	return PipelineURL(c) + "/branches"
}

func BranchURL(c Context) string {
	return PipelineURL(c) + "/branches/" + Segment(c.Branch)
}

// runBase is the pipeline, or branch, URL the run lives under.
func runBase(c Context) string {
	if c.IsMultiBranch {
		return BranchURL(c)
	}
	return PipelineURL(c)
}

func RunURL(c Context) string {
	return runBase(c) + "/runs/" + c.RunID
}

func NodesURL(c Context) string {
	return RunURL(c) + "/nodes/"
}

func StepsURL(c Context) string {
	if c.Node != "" {
		return RunURL(c) + "/nodes/" + c.Node + "/steps"
	}
	return RunURL(c) + "/steps/"
}

type RunLogURL struct {
	URL      string
	FileName string
}

// RunLog returns the full run log URL and the file name offered on download.
func RunLog(c Context) RunLogURL {
	if c.IsMultiBranch {
		return RunLogURL{
			URL:      RunURL(c) + "/log/",
			FileName: fmt.Sprintf("%s-%s.txt", c.Branch, c.RunID),
		}
	}
	return RunLogURL{
		URL:      RunURL(c) + "/log/",
		FileName: c.RunID + ".txt",
	}
}

// LogURL is the node log under nodesURL when c names a node, else the run log.
func LogURL(c Context, nodesURL string) string {
	if c.Node != "" {
		return strings.TrimRight(nodesURL, "/") + "/" + c.Node + "/log"
	}
	return RunLog(c).URL
}

const upperhex = "0123456789ABCDEF"

// encodeURIComponent leaves A-Z a-z 0-9 - _ . ! ~ * ' ( ) intact and
// percent-encodes every other byte of the UTF-8 input.
func encodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
