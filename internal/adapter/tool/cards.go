// Package tool provides the built-in branch tools shipped with the daemon.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"cadence/internal/domain"
)

var suits = []string{"hearts", "diamonds", "clubs", "spades"}

var ranks = []string{
	"2", "3", "4", "5", "6", "7", "8", "9", "10",
	"jack", "queen", "king", "ace",
}

// Card is one playing card.
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string { return c.Rank + " of " + c.Suit }

// DeckStore owns the deck state for every running game. Tools hold no state
// of their own; each call names its game and the store resolves the deck, so
// concurrent games never share cards.
type DeckStore struct {
	mu    sync.Mutex
	decks map[string][]Card
	seed  func() *rand.Rand
}

// NewDeckStore creates an empty store.
func NewDeckStore() *DeckStore {
	return &DeckStore{
		decks: make(map[string][]Card),
		seed:  func() *rand.Rand { return rand.New(rand.NewSource(rand.Int63())) },
	}
}

// Draw removes up to count cards from the named game's deck, creating and
// shuffling a fresh deck on first use. Fewer cards come back when the deck
// runs out.
func (ds *DeckStore) Draw(gameID string, count int) []Card {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	deck, ok := ds.decks[gameID]
	if !ok {
		deck = ds.freshDeck()
	}
	if count > len(deck) {
		count = len(deck)
	}
	drawn := deck[:count]
	ds.decks[gameID] = deck[count:]
	return drawn
}

// Remaining reports how many cards the named game still holds. A game that
// has not drawn yet reports a full deck.
func (ds *DeckStore) Remaining(gameID string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if deck, ok := ds.decks[gameID]; ok {
		return len(deck)
	}
	return len(suits) * len(ranks)
}

// Reset discards the named game's deck.
func (ds *DeckStore) Reset(gameID string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.decks, gameID)
}

func (ds *DeckStore) freshDeck() []Card {
	deck := make([]Card, 0, len(suits)*len(ranks))
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	rng := ds.seed()
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// largeDrawThreshold is the hand size above which the tool asks the user to
// confirm before drawing.
const largeDrawThreshold = 5

type drawParams struct {
	GameID  string  `json:"game_id"`
	Count   float64 `json:"count"`
	Narrate bool    `json:"narrate"`
}

type drawResult struct {
	GameID    string   `json:"game_id"`
	Cards     []string `json:"cards"`
	Remaining int      `json:"remaining"`
	Narration string   `json:"narration,omitempty"`
}

// DrawCards builds the draw_cards branch tool over the given store.
func DrawCards(store *DeckStore) *domain.BranchToolSpec {
	return &domain.BranchToolSpec{
		Name:        "draw_cards",
		Description: "Draw cards from a per-game shuffled deck.",
		Schema: domain.ParamSchema{
			"game_id": {
				Type:        domain.ParamString,
				Description: "Identifier of the game whose deck to draw from.",
			},
			"count": {
				Type:        domain.ParamNumber,
				Description: "How many cards to draw.",
			},
			"narrate": {
				Type:        domain.ParamBoolean,
				Description: "Ask the model for a flavor description of the hand.",
				Optional:    true,
				Default:     false,
			},
		},
		Requires: domain.CapabilityRequirements{Elicitation: true},
		Elicits: map[string]domain.ElicitSpec{
			"confirm_draw": {
				Response: domain.ParamSchema{
					"confirm": {
						Type:        domain.ParamBoolean,
						Description: "Whether to proceed with the large draw.",
					},
				},
			},
		},
		Run: func(ctx context.Context, bc domain.BranchContext, raw json.RawMessage) (json.RawMessage, error) {
			var params drawParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, domain.NewDomainError("draw_cards", domain.ErrInvalidInput, err.Error())
			}
			count := int(params.Count)
			if count <= 0 {
				return nil, domain.NewDomainError("draw_cards", domain.ErrInvalidInput,
					fmt.Sprintf("count must be positive, got %d", count))
			}

			if count > largeDrawThreshold {
				payload, _ := json.Marshal(map[string]any{
					"message": fmt.Sprintf("Draw %d cards?", count),
					"count":   count,
				})
				answer, err := bc.Elicit(ctx, "confirm_draw", payload)
				if err != nil {
					return nil, err
				}
				if answer.Action != domain.ElicitAccept || !confirmed(answer.Content) {
					bc.Log("info", "large draw declined")
					return json.Marshal(drawResult{
						GameID:    params.GameID,
						Remaining: store.Remaining(params.GameID),
					})
				}
			}

			drawn := store.Draw(params.GameID, count)
			bc.Notify(1.0, fmt.Sprintf("drew %d cards", len(drawn)))

			result := drawResult{
				GameID:    params.GameID,
				Cards:     cardNames(drawn),
				Remaining: store.Remaining(params.GameID),
			}

			if params.Narrate && len(drawn) > 0 {
				sample, err := bc.Sample(ctx, domain.SampleRequest{
					System:    "You narrate card draws in one vivid sentence.",
					Prompt:    "The hand: " + strings.Join(result.Cards, ", "),
					MaxTokens: 100,
				})
				if err != nil {
					return nil, err
				}
				// Empty text means the host degraded the side channel; the
				// draw itself still stands.
				result.Narration = sample.Text
			}

			return json.Marshal(result)
		},
	}
}

func cardNames(cards []Card) []string {
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.String()
	}
	return names
}

func confirmed(content json.RawMessage) bool {
	var answer struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.Unmarshal(content, &answer); err != nil {
		return false
	}
	return answer.Confirm
}
