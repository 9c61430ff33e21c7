package council

import (
	"fmt"
	"strings"
)

func rankingPrompt(question string, answers []MemberAnswer) string {
	var responses strings.Builder
	for i, answer := range answers {
		if i > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "%s:\n%s", responseLabel(i), answer.Response)
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Now provide your evaluation and ranking:`, question, responses.String())
}

func synthesisPrompt(question string, answers []MemberAnswer, reviews []MemberReview) string {
	var stage1 strings.Builder
	for i, answer := range answers {
		if i > 0 {
			stage1.WriteString("\n\n")
		}
		fmt.Fprintf(&stage1, "Model: %s\nResponse: %s", answer.Model, answer.Response)
	}

	var stage2 strings.Builder
	for i, review := range reviews {
		if i > 0 {
			stage2.WriteString("\n\n")
		}
		fmt.Fprintf(&stage2, "Model: %s\nRanking: %s", review.Model, review.Ranking)
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, question, stage1.String(), stage2.String())
}
