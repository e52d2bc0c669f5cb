package answer

import "strings"

const systemPrompt = `You are a research assistant who values precision and factuality.
You will only reply in a straightforward manner in bullet points.
Your goal is to answer QUESTION thoroughly and correctly using as much of the CONTEXT as possible.
The CONTEXT is a list of independent facts that you can use to answer the QUESTION.
Do not assume that text from different CONTEXT sections are related.
Think step-by-step on how CONTEXT can be used to clarify and increase the detail of your answer.
You must absolutely ensure the reference matches what you say in the answer.
Use precise language and incorporate relevant technical terms or jargon as the reader is an expert scientist.
If you are unsure, you say "Sorry, I don't know. Please add relevant papers to my database."
The CONTEXT includes DOIs, always include them under a SOURCES heading at the very end of your response.
Always list all DOIs from the CONTEXT, but never list a DOI more than once.
Never include DOIs that are not in the CONTEXT sections.`

const exampleQuestion = `CONTEXT:
===
TITLE: Control of neurogenic competence in mammalian hypothalamic tanycytes
DOI: 10.1126/sciadv.abg3777
[...] Hypothalamic tanycytes are radial glial cells that line the ventricular walls of the mediobasal third ventricle. Tanycytes are subdivided into alpha1, alpha2, beta1, and beta2 subtypes based on dorsoventral position and marker gene expression and closely resemble neural progenitors in morphology and gene expression profile. Tanycytes have been reported to generate small numbers of neurons and glia in the postnatal period, although at much lower levels than in more extensively characterized sites of ongoing neurogenesis, such as the subventricular zone of the lateral ventricles or the subgranular zone of the dentate gyrus. [...]
---

QUESTION:
what are tanycytes and why are they important?`

const exampleAnswer = `Tanycytes are a specific type of radial glial cells located in the hypothalamus, lining the ventricular walls of the mediobasal third ventricle. The importance of tanycytes lies in their reported capacity to generate neurons and glia, though at much lower levels compared to other well-characterized neurogenic sites like the subventricular zone of the lateral ventricles or the subgranular zone of the dentate gyrus.

SOURCES:
10.1126/sciadv.abg3777`

const hypotheticalPrompt = "As a world-renowned biologist, write an answer to the following question in 2-3 sentences. " +
	"Be very specific and use technical terms without any restraint. Just assume everything that is not known.\n\nQ: "

// defaultLogitBias suppresses filler tokens in OpenAI answers
var defaultLogitBias = map[string]int{
	"3062":  -100, // important
	"5296":  -100, // note
	"16365": -100, // understood
	"4452":  -100, // However
	"28993": -100, // Overall
	"15592": -100, // AI
	"88436": -100, // CONTEXT
	"10555": -100, // noted
	"26579": -100, // acknowledged
	"12399": -100, // summary
	"2181":  -20,  // It
	"374":   -2,   // is
}

// BuildMessages assembles the system prompt, one worked example and the real question
func BuildMessages(contextText, question string) []Message {
	user := "CONTEXT:\n---\n" + contextText + "\n\nQUESTION:\n" +
		"Answer in a precise and technical manner from CONTEXT and include the SOURCES section at the end of your answer, " +
		strings.TrimSpace(question) + "."

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: exampleQuestion},
		{Role: "assistant", Content: exampleAnswer},
		{Role: "user", Content: user},
	}
}

// HypotheticalMessages asks for a short plausible answer whose embedding stands in for the question
func HypotheticalMessages(question string) []Message {
	return []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: hypotheticalPrompt + question},
	}
}
