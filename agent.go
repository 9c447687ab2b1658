package main

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// EditProposer turns a natural-language intent into one deck operation.
type EditProposer interface {
	ProposeEdit(ctx context.Context, deck DeckView, intent string) (Operation, error)
}

const proposerInstruction = `You edit HTML slide decks. Given the current deck and a request, choose exactly one operation:
add (html, optional position), delete (position), edit (position, html), reorder (order: a permutation of all positions), duplicate (position), set_style (text: full CSS), set_title (text).
Positions are zero-based. Inline scripts are lifted out of slides into the shared "scripts" list, each with the element ids it targets; an edit that replaces a scripted element must bring its script again.
Every slide is a single <section class="slide">...</section> element.
Give every <canvas> a unique id and put the script that draws it in an inline <script> inside the slide, using document.getElementById with that id.
Answer with JSON only.`

var proposalSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"operation": {Type: genai.TypeString, Enum: []string{
			string(OpAdd), string(OpDelete), string(OpEdit), string(OpReorder),
			string(OpDuplicate), string(OpSetStyle), string(OpSetTitle),
		}},
		"position": {Type: genai.TypeInteger},
		"html":     {Type: genai.TypeString},
		"order":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}},
		"text":     {Type: genai.TypeString},
	},
	Required: []string{"operation"},
}

// GeminiProposer asks a Gemini model for the next operation.
type GeminiProposer struct {
	client *genai.Client
	config *ConfigHandle
}

func NewGeminiProposer(client *genai.Client, config *ConfigHandle) *GeminiProposer {
	return &GeminiProposer{client: client, config: config}
}

// ProposeEdit implements EditProposer.
func (p *GeminiProposer) ProposeEdit(ctx context.Context, deck DeckView, intent string) (Operation, error) {
	prompt, err := proposalPrompt(deck, intent)
	if err != nil {
		return Operation{}, err
	}
	model := p.config.Load().Gemini.ProposerModel
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(proposerInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    proposalSchema,
	})
	if err != nil {
		return Operation{}, fmt.Errorf("proposer call failed: %w", err)
	}
	return parseProposal(resp.Text())
}

func proposalPrompt(deck DeckView, intent string) (string, error) {
	type slideBrief struct {
		Position int    `json:"position"`
		HTML     string `json:"html"`
	}
	brief := struct {
		Title   string           `json:"title"`
		Style   string           `json:"style"`
		Slides  []slideBrief     `json:"slides"`
		Scripts []BehaviorScript `json:"scripts"`
	}{Title: deck.Title, Style: deck.Style, Scripts: deck.Scripts}
	for _, s := range deck.Slides {
		brief.Slides = append(brief.Slides, slideBrief{Position: s.Position, HTML: s.HTML})
	}
	data, err := json.Marshal(brief)
	if err != nil {
		return "", fmt.Errorf("failed to marshal deck: %w", err)
	}
	return fmt.Sprintf("Current deck:\n%s\n\nRequest: %s", data, intent), nil
}

func parseProposal(text string) (Operation, error) {
	var op Operation
	if err := json.Unmarshal([]byte(stripFence(text)), &op); err != nil {
		return Operation{}, fmt.Errorf("failed to parse proposal: %w", err)
	}
	if op.Kind == "" {
		return Operation{}, fmt.Errorf("%w: proposal names no operation", ErrUnknownOperation)
	}
	return op, nil
}
