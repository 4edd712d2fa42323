package worker

// hopPrompt asks the model to answer one sub-query. Arguments in order:
// original query, sub-query text, capability line, prior results block,
// notes block.
const hopPrompt = `You are answering one step of a multi-step research question.

Original question: %s

Current step: %s
%s
%s%s
Answer only the current step. Respond with a single JSON object and nothing else:

{
  "claims": {"short_snake_case_fact_name": "value"},
  "summary": "one or two sentences answering the current step",
  "confidence": 0.0,
  "citations": [
    {"id": "short-id", "source": "where the fact comes from", "reference": "page, URL or section", "confidence": 0.0, "context": "quoted supporting text"}
  ]
}

Rules:
- claims holds the atomic facts you assert, keyed by a stable fact name.
- Values are strings, numbers or booleans. Dates use YYYY-MM-DD.
- confidence is between 0 and 1 and reflects how sure you are of the claims.
- Cite every source you rely on. Omit citations rather than invent them.
`

const capabilityLine = "Capabilities available to you: %s\n"

const priorHeader = "\nResults of earlier steps:\n"

const notesHeader = "\nNotes from other workers:\n"
