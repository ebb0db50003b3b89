package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	statex "github.com/Champsson/Kooler-Agent/agent/state"
)

// ResolveThread loads the session for the key or opens a new thread for it.
// Within one process, concurrent first messages for a key share a single
// CreateThread call; across processes the store's atomic Create decides and
// the losing thread is deleted.
func ResolveThread(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	api contractx.AssistantAPI,
	group *singleflight.Group,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	session, err := store.Load(ctx, in.SessionKey)
	if err == nil {
		session.Touch(in.Now)
		if err := store.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("%w: refresh session: %w", contractx.ErrProcessing, err)
		}
		in.Session = session
		return in, nil
	}
	if !errors.Is(err, statex.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: load session: %w", contractx.ErrProcessing, err)
	}

	v, err, _ := group.Do(in.SessionKey, func() (any, error) {
		return createSession(ctx, in, store, api)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrProcessing, err)
	}
	created := v.(*statex.ConversationSession)
	cp := *created
	in.Session = &cp
	return in, nil
}

func createSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	api contractx.AssistantAPI,
) (*statex.ConversationSession, error) {
	existing, err := store.Load(ctx, in.SessionKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, statex.ErrSessionNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	threadID, err := api.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	session := statex.NewConversationSession(in.SessionKey, threadID, string(in.Channel), in.Now)
	err = store.Create(ctx, session)
	if errors.Is(err, statex.ErrSessionExists) {
		winner, lerr := store.Load(ctx, in.SessionKey)
		if lerr != nil {
			return nil, fmt.Errorf("load concurrent session: %w", lerr)
		}
		if derr := api.DeleteThread(ctx, threadID); derr != nil {
			log.Warn().Err(derr).Str("thread_id", threadID).Msg("failed to delete orphaned thread")
		}
		log.Info().
			Str("session_key", in.SessionKey).
			Str("thread_id", winner.ThreadID).
			Msg("adopted concurrently created thread")
		return winner, nil
	}
	if err != nil {
		if derr := api.DeleteThread(ctx, threadID); derr != nil {
			log.Warn().Err(derr).Str("thread_id", threadID).Msg("failed to delete unrecorded thread")
		}
		return nil, fmt.Errorf("record session: %w", err)
	}

	log.Info().
		Str("session_key", in.SessionKey).
		Str("channel", string(in.Channel)).
		Str("thread_id", threadID).
		Msg("conversation thread created")
	return session, nil
}
