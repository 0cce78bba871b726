package workspace

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/agent"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// AskResult is the assistant turn produced by Ask.
type AskResult struct {
	Generation uint64        `json:"generation"`
	Message    agent.Message `json:"message"`
}

// Ask sends prompt, the transcript and the workspace context to the agent
// and appends both turns to the transcript. Files named by @mentions in the
// prompt are added to taggedIDs. The returned operations are not applied;
// callers apply them with ApplyOperations against the then-live tree.
//
// The lock is not held while the agent runs. Each call takes a new
// generation; when discard_stale_responses is set, a response that arrives
// after a newer request was issued is dropped with a stale error.
func (s *Session) Ask(ctx context.Context, prompt string, taggedIDs []string) (*AskResult, error) {
	if agent.StripMentions(prompt) == "" {
		return nil, errors.NewInvalidRequest("prompt is required")
	}
	if s.producer == nil {
		return nil, errors.NewAgentUnavailable(fmt.Errorf("no agent configured"))
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	t := s.tree
	tagged := resolveTagged(t, taggedIDs, prompt)

	user := agent.NewMessage(agent.RoleUser, prompt)
	for _, n := range tagged {
		user.ContextFileNames = append(user.ContextFileNames, n.Name)
	}
	s.chat = append(s.chat, user)
	transcript := slices.Clone(s.chat)
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"generation": gen, "tagged": len(tagged)})
	resp, err := s.producer.Propose(ctx, agent.Request{History: transcript, Tree: t, Tagged: tagged})
	if err != nil {
		log.WithError(err).Warn("agent request failed")
		return nil, err
	}
	if resp == nil {
		return nil, errors.NewAgentUnavailable(fmt.Errorf("agent returned no response"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.DiscardStaleResponses && gen < s.generation {
		log.WithField("latest", s.generation).Info("discarding stale agent response")
		return nil, errors.NewStale(gen, s.generation)
	}

	reply := agent.NewMessage(agent.RoleAssistant, resp.Reasoning)
	if reply.Content == "" {
		reply.Content = agent.DefaultReasoning
	}
	reply.Operations = resp.Operations
	s.chat = append(s.chat, reply)
	log.WithField("operations", len(reply.Operations)).Debug("agent replied")
	return &AskResult{Generation: gen, Message: reply}, nil
}

// resolveTagged returns the files for ids plus those mentioned in prompt,
// in that order, without duplicates. Unknown ids and folders are skipped.
func resolveTagged(t *tree.Tree, ids []string, prompt string) []*tree.Node {
	var out []*tree.Node
	seen := make(map[string]bool)
	add := func(n *tree.Node) {
		if n != nil && !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	for _, id := range ids {
		add(t.File(id))
	}
	for _, n := range agent.ResolveMentions(t, prompt) {
		add(n)
	}
	return out
}

// Chat returns a copy of the transcript.
func (s *Session) Chat() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chat)
}

// ClearChat empties the transcript.
func (s *Session) ClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = nil
}
