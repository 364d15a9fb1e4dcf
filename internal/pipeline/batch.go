package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Trigger labels reported to the user.
const (
	TriggerChange  = "change"
	TriggerRemove  = "remove"
	TriggerStartup = "startup"
)

// ChangeBatch accumulates pending change descriptors between debounce
// windows. The trigger label is fixed by the first event of the batch;
// later events only grow the file set.
type ChangeBatch struct {
	Trigger string
	Files   map[string]struct{}
}

// MergeBatches folds next into pending, keeping pending's trigger when
// it already has one.
func MergeBatches(pending ChangeBatch, next ChangeBatch) ChangeBatch {
	if pending.Trigger == "" {
		pending.Trigger = next.Trigger
	}
	if pending.Files == nil {
		pending.Files = make(map[string]struct{}, len(next.Files))
	}
	for file := range next.Files {
		pending.Files[file] = struct{}{}
	}
	return pending
}

// SortedFiles returns the batch's files in deterministic order.
func (b ChangeBatch) SortedFiles() []string {
	files := make([]string, 0, len(b.Files))
	for file := range b.Files {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// maxSummaryFiles bounds how many file names appear in a reason label.
const maxSummaryFiles = 3

// Label formats the human-readable trigger reason: the trigger kind plus
// up to three changed files, with a "+N more" suffix beyond that. Pure
// formatting, no correctness weight.
func (b ChangeBatch) Label() string {
	files := b.SortedFiles()
	if len(files) == 0 {
		return b.Trigger
	}

	shown := files
	var suffix string
	if len(files) > maxSummaryFiles {
		shown = files[:maxSummaryFiles]
		suffix = fmt.Sprintf(" +%d more", len(files)-maxSummaryFiles)
	}
	return fmt.Sprintf("%s (%s%s)", b.Trigger, strings.Join(shown, ", "), suffix)
}
