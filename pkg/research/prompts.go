package research

import (
	"fmt"
	"strings"
)

const queryWriterInstructions = `Your goal is to generate a targeted web search query.
The query will gather information about a specific topic.

Topic: %s

Return your query as a JSON object inside a json code block:
{
    "query": "string",
    "aspect": "string",
    "rationale": "string"
}`

const summarizerInstructions = `Your goal is to generate a high-quality summary of the web search results.

When EXTENDING an existing summary:
1. Integrate new information seamlessly without repeating what is already covered.
2. Keep the style of the existing content.
3. Only add new, non-redundant information.
4. Keep transitions between existing and new content smooth.

When creating a NEW summary:
1. Highlight the most relevant information from each source.
2. Give a concise overview of the key points related to the topic.
3. Emphasize significant findings or insights.
4. Keep the flow of information coherent.

In both cases:
1. Focus on factual, objective information.
2. Keep a consistent technical depth.
3. Avoid repetition and redundancy.
4. DON'T use phrases like "based on new results".
5. DON'T add a preamble like "Here is an extended summary ...", just provide the summary.
6. DON'T add a references or works cited section.
7. Use markdown tables when the user asks for them.`

const reflectionInstructions = `You are an expert research assistant analyzing a summary about %s.

Your tasks:
1. Identify knowledge gaps or areas that need further exploration.
2. Generate a follow-up question that would expand the understanding.
3. Focus on technical details and implementation specifics.

Make sure the follow-up question is self-contained and includes the context needed for a web search.

Return your response as a JSON object inside a json code block:
{
    "knowledge_gap": "string",
    "follow_up_query": "string"
}`

func queryWriterPrompt(topic string) string {
	return fmt.Sprintf("IMPORTANT INSTRUCTIONS:\n%s\n\nGenerate a query for web search", fmt.Sprintf(queryWriterInstructions, topic))
}

func newSummaryPrompt(topic, searchResults string) string {
	return fmt.Sprintf("IMPORTANT INSTRUCTIONS:\n%s\n\nGenerate a summary of these search results: %s\n\nThat addresses the following topic: %s",
		summarizerInstructions, searchResults, topic)
}

func extendSummaryPrompt(topic, existing, searchResults string) string {
	return fmt.Sprintf("IMPORTANT INSTRUCTIONS:\n%s\n\nExtend the existing summary: %s\n\nInclude new search results: %s\n\nThat addresses the following topic: %s",
		summarizerInstructions, existing, searchResults, topic)
}

func reflectionPrompt(topic, summary string) string {
	return fmt.Sprintf("IMPORTANT INSTRUCTIONS:\n%s\n\nIdentify a knowledge gap and generate a follow-up web search query based on existing knowledge: %s",
		fmt.Sprintf(reflectionInstructions, topic), summary)
}

// FinalReport renders the finished summary followed by the gathered sources.
func FinalReport(summary string, sources []string) string {
	return fmt.Sprintf("## Summary\n\n%s\n\nSources:\n%s", summary, strings.Join(sources, "\n"))
}
