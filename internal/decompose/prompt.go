package decompose

// decompositionPrompt is the prompt template for query decomposition.
// The first verb receives the capability guidance, the second the query.
const decompositionPrompt = `Break this question into the smallest set of sub-questions that together answer it. Each sub-question should be answerable in a single lookup or reasoning step.
%s
Question:
%s

Return ONLY a JSON array of sub-questions with this exact structure (no other text):
[
  {
    "id": "sq1",
    "text": "A self-contained sub-question",
    "depends_on": ["id or exact text of a sub-question whose answer is needed first"],
    "capabilities": ["search"]
  }
]

Guidelines:
- Sub-questions should be as independent as possible so they can run in parallel
- Only add a dependency when the answer to one sub-question is needed to ask another
- Use empty array [] for depends_on if there are no dependencies
- NEVER create circular dependencies
- Keep ids short and unique ("sq1", "sq2", ...)`

// capabilityGuidance is appended when the available capabilities are known.
const capabilityGuidance = `
Available capabilities (use only these in "capabilities"): %s
`
