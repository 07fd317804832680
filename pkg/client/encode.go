package client

import (
	"fmt"
	"strings"
)

// RunningInstance is one unit of execution range passed to Execute.
type RunningInstance struct {
	Start int
	Shift int
}

// EncodeRunningInstances renders a sequence of running-instance pairs in the
// wire format of the execute endpoint's running_instances parameter: each
// pair as "(start;shift)", the sequence as their bare concatenation, an empty
// sequence as "". This is a pass-through formatter; values are not validated.
//
// Earlier client drafts wrapped the sequence in square brackets (with and
// without comma separators). Those renderings are not accepted by this SDK.
func EncodeRunningInstances(instances []RunningInstance) string {
	var b strings.Builder
	for _, ri := range instances {
		fmt.Fprintf(&b, "(%d;%d)", ri.Start, ri.Shift)
	}
	return b.String()
}
