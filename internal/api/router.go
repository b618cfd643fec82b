package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"

	"line-stock-bot/internal/broadcast"
	"line-stock-bot/internal/config"
	"line-stock-bot/internal/delivery"
	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/push/line"
	"line-stock-bot/internal/quote"
	"line-stock-bot/internal/store"
	"line-stock-bot/internal/watchlist"
)

type CommandHandler interface {
	Handle(ctx context.Context, owner, text string) string
}

type Sender interface {
	Send(ctx context.Context, ch delivery.Channel, to, text, kind string) delivery.Result
}

type Resolver interface {
	ResolveAll(ctx context.Context, tickers []string) []quote.Result
}

type Watchlist interface {
	List(ctx context.Context, owner string) ([]string, error)
}

type Broadcaster interface {
	BroadcastNow(ctx context.Context) broadcast.Summary
	State() broadcast.State
}

type DeliveryLog interface {
	QueryDeliveriesByDate(ctx context.Context, date, status string, limit, offset int) ([]store.DeliveryRecord, error)
}

type StatusReporter interface {
	Status() map[string]any
}

type Deps struct {
	ChannelSecret string
	Owners        watchlist.OwnerScheme
	Commands      CommandHandler
	Replier       delivery.Channel
	Sender        Sender
	Resolver      Resolver
	Watchlist     Watchlist
	Broadcaster   Broadcaster
	Deliveries    DeliveryLog
	Commentary    StatusReporter
	Location      *time.Location
	Logger        *logging.Logger
}

type quoteView struct {
	Ticker string       `json:"ticker"`
	Name   string       `json:"name,omitempty"`
	Quote  *quote.Quote `json:"quote,omitempty"`
	Error  string       `json:"error,omitempty"`
	Text   string       `json:"text"`
}

func RegisterRoutes(h *route.Engine, d Deps) {
	logger := d.Logger.Component("api")
	if d.Location == nil {
		d.Location = time.FixedZone("CST", 8*60*60)
	}

	h.GET("/", func(_ context.Context, c *app.RequestContext) {
		c.String(http.StatusOK, "line-stock-bot is running")
	})

	h.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		resp := map[string]any{"ok": true}
		if d.Broadcaster != nil {
			resp["broadcast"] = d.Broadcaster.State().String()
		}
		if d.Commentary != nil {
			resp["commentary"] = d.Commentary.Status()
		}
		c.JSON(http.StatusOK, resp)
	})

	h.POST("/callback", func(ctx context.Context, c *app.RequestContext) {
		body := c.Request.Body()
		sig := string(c.GetHeader("X-Line-Signature"))
		if !line.VerifySignature(d.ChannelSecret, body, sig) {
			logger.Warn().Msg("webhook signature mismatch")
			c.String(http.StatusBadRequest, "invalid signature")
			return
		}
		payload, err := line.ParseWebhook(body)
		if err != nil {
			c.String(http.StatusBadRequest, "invalid payload")
			return
		}

		for _, ev := range payload.TextEvents() {
			owner := d.Owners.OwnerFor(ev.Source.ID())
			reply := d.Commands.Handle(ctx, owner, ev.Message.Text)
			if ev.ReplyToken == "" || d.Replier == nil {
				continue
			}
			res := d.Sender.Send(ctx, d.Replier, ev.ReplyToken, reply, delivery.KindReply)
			if res.Error != nil {
				logger.Error().Err(res.Error).Str("owner", owner).Msg("reply failed")
			}
		}
		c.String(http.StatusOK, "OK")
	})

	h.GET("/push", func(ctx context.Context, c *app.RequestContext) {
		if d.Broadcaster == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": "broadcast not configured",
			})
			return
		}
		sum := d.Broadcaster.BroadcastNow(ctx)
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"summary": sum,
		})
	})

	h.GET("/api/v1/quotes", func(ctx context.Context, c *app.RequestContext) {
		tickers := config.SplitList(c.Query("tickers"))
		if len(tickers) == 0 {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "tickers is required",
			})
			return
		}
		results := d.Resolver.ResolveAll(ctx, tickers)
		out := make([]quoteView, 0, len(results))
		for _, r := range results {
			v := quoteView{Ticker: r.Ticker, Name: r.Name, Quote: r.Quote, Text: quote.FormatResult(r)}
			if r.Err != nil {
				v.Error = r.Err.Error()
			}
			out = append(out, v)
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"quotes": out,
		})
	})

	h.GET("/api/v1/watchlist/:owner", func(ctx context.Context, c *app.RequestContext) {
		owner := c.Param("owner")
		tickers, err := d.Watchlist.List(ctx, owner)
		if err != nil {
			logger.Error().Err(err).Str("owner", owner).Msg("list watchlist")
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		if tickers == nil {
			tickers = []string{}
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"owner":   owner,
			"tickers": tickers,
		})
	})

	h.GET("/api/v1/deliveries", func(ctx context.Context, c *app.RequestContext) {
		if d.Deliveries == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": "store not configured",
			})
			return
		}
		date := c.Query("date")
		if date == "" {
			date = time.Now().In(d.Location).Format("2006-01-02")
		}
		limit, err := parseLimit(c.Query("limit"))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		offset, err := parseOffset(c.Query("offset"))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		recs, err := d.Deliveries.QueryDeliveriesByDate(ctx, date, c.Query("status"), limit, offset)
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if recs == nil {
			recs = []store.DeliveryRecord{}
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":         true,
			"date":       date,
			"deliveries": recs,
		})
	})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 200, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if v > 1000 {
		return 1000, nil
	}
	return v, nil
}

func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid offset")
	}
	return v, nil
}
