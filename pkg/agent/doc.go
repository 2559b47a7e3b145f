// Package agent runs document question-answering conversations. An Agent
// wires a conversational memory window, a document index, and a web search
// fallback behind an LLM tool loop: the model consults the uploaded documents
// first, falls back to the web, and answers in the context of the
// conversation so far.
package agent
