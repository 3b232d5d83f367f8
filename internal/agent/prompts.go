package agent

import (
	"fmt"
	"strings"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

// DefaultSystemPrompt steers a tool-calling model through the pipeline.
const DefaultSystemPrompt = `You orchestrate a picture-book production pipeline. Each turn you choose exactly one next step by calling one tool:
- story: write new stories for the configured topic and add them to the ledger.
- images: render the pages of every story that has no pages yet.
- upload: publish rendered pages that are not uploaded yet.
- database: record uploaded stories in the story database. This is the last step.
- finish: stop; nothing useful is left to do.

Rules:
- Look at the ledger counts. Skip steps that have nothing to process.
- The usual order is story, images, upload, database.
- A result starting with "NG:" means the run already stopped; a result starting with "OK:" means you may continue.
- Call finish once the database step has succeeded or nothing remains.`

// CompactSystemPrompt is the plain-text variant for small models.
const CompactSystemPrompt = `You control a 4-step pipeline: story -> images -> upload -> database.
Reply with ONE word only: story, images, upload, database or FINISH.
Follow the order. After database succeeds, reply FINISH.`

// stageDescriptions doubles as the tool catalog.
var stageDescriptions = []struct {
	name string
	desc string
}{
	{string(pipeline.StageStory), "Generate new stories and add them to the task ledger."},
	{string(pipeline.StageImages), "Render picture-book pages for stories without pages."},
	{string(pipeline.StageUpload), "Upload rendered pages to the asset host."},
	{string(pipeline.StageDatabase), "Record uploaded stories in the story database. Final step."},
	{finishTool, "Stop the run. Call when no step is left to do."},
}

const finishTool = "finish"

// FormatState renders the ledger counts and step history for the model.
func FormatState(in pipeline.DecisionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of at most %d.\n", in.Step, in.MaxSteps)
	s := in.Summary
	fmt.Fprintf(&b, "Ledger: %d tasks, %d need images, %d need upload, %d uploaded, %d excluded.\n",
		s.Total, s.NeedsImages, s.NeedsUpload, s.Done, s.Excluded)
	if len(in.History) == 0 {
		b.WriteString("No step has run yet.\n")
	} else {
		b.WriteString("Steps so far:\n")
		for _, h := range in.History {
			fmt.Fprintf(&b, "%d. %s -> %s\n", h.Step, h.Stage, h.Feedback)
		}
	}
	b.WriteString("Choose the next step.")
	return b.String()
}
