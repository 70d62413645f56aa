// Command seed fills a store with sample users, posts, follows and a
// conversation. Every write goes through the same core components the
// service uses, so counts and previews stay derived. Running it twice is
// harmless.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/games-society/internal/app"
	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/graph"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/messagelog"
	"github.com/weiawesome/games-society/internal/service"
	"github.com/weiawesome/games-society/internal/toggle"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

var users = []domain.User{
	{
		ID:          "user_1",
		Email:       "user1@example.com",
		Username:    "userone",
		DisplayName: "User One",
		PhotoURL:    "https://example.com/photo1.jpg",
		Bio:         "This is user one",
		GameIDs:     map[string]string{"valorant": "Gold", "csgo": "Silver", "leagueoflegends": "Platinum"},
		SocialLinks: map[string]string{"twitch": "twitchuser1", "youtube": "youtubeuser1"},
	},
	{
		ID:          "user_2",
		Email:       "user2@example.com",
		Username:    "usertwo",
		DisplayName: "User Two",
		PhotoURL:    "https://example.com/photo2.jpg",
		GameIDs:     map[string]string{"valorant": "Diamond"},
	},
	{
		ID:          "user_3",
		Email:       "user3@example.com",
		Username:    "userthree",
		DisplayName: "User Three",
		IsPrivate:   true,
	},
}

// follows are follower -> following pairs.
var follows = [][2]string{
	{"user_2", "user_1"},
	{"user_3", "user_1"},
	{"user_1", "user_2"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: true, ServiceName: "seed"})
	logger := pkglog.L()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ids, err := idgen.New(cfg.IDGen)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}
	st, err := app.OpenStore(ctx, cfg, ids)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close(context.Background())
	if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
		logger.Warn().Msg("seeding the memory store; data is gone when seed exits")
	}

	feeds := feed.NewManager(st, cfg.Feed)
	defer feeds.Close()
	svc := service.NewSyncService(service.Deps{
		Store:    st,
		Resolver: conversation.NewResolver(st, st, nil),
		Messages: messagelog.New(st, feeds, ids, nil, cfg.MessageLog),
		Graph:    graph.NewMutator(st, nil),
		Toggles:  toggle.NewCoordinator(st, nil),
	})

	skipExisting := func(err error, what string) {
		switch {
		case err == nil:
			logger.Info().Msg(what + " created")
		case errors.Is(err, domain.ErrAlreadyExists):
			logger.Info().Msg(what + " already present")
		default:
			logger.Fatal().Err(err).Msg("failed to seed " + what)
		}
	}

	for _, u := range users {
		skipExisting(svc.CreateUser(ctx, &u), "user "+u.ID)
	}

	for _, f := range follows {
		if err := svc.SetFollowing(ctx, f[0], f[1], true); err != nil {
			logger.Fatal().Err(err).Str("follower", f[0]).Str("following", f[1]).Msg("failed to seed follow")
		}
	}
	logger.Info().Int("count", len(follows)).Msg("follows seeded")

	post := &domain.Post{
		ID:       "post_1",
		AuthorID: "user_1",
		Content:  "This is a post",
		Media:    []string{"https://example.com/image.jpg"},
		GameTag:  "valorant",
	}
	skipExisting(svc.CreatePost(ctx, post), "post "+post.ID)
	for _, t := range []struct {
		actor string
		field domain.ToggleField
	}{
		{"user_2", domain.FieldLikes},
		{"user_3", domain.FieldSaves},
		{"user_1", domain.FieldSaves},
	} {
		if _, err := svc.Toggle(ctx, post.ID, t.actor, t.field, true); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed toggle")
		}
	}

	h, err := svc.ResolveConversation(ctx, "user_1", "user_2")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed conversation")
	}
	msgs, err := svc.ListMessages(ctx, "user_1", h.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read seeded conversation")
	}
	if len(msgs) == 0 {
		for _, m := range []struct{ from, text string }{
			{"user_1", "Hey, up for a ranked match tonight?"},
			{"user_2", "Sure, 9pm works."},
		} {
			if _, err := svc.SendMessage(ctx, m.from, h.ID, m.text); err != nil {
				logger.Fatal().Err(err).Msg("failed to seed message")
			}
		}
	}
	logger.Info().Str(pkglog.FieldConversationID, h.ID).Msg("seed complete")
}
