package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/auction-house/internal/auction"
	"github.com/example/auction-house/internal/auth"
	"github.com/example/auction-house/internal/ledger"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WSOut struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex // gorilla allows one concurrent writer
	team      string
	recruiter bool
}

func (c *client) send(out WSOut) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(out); err != nil {
		log.Println("write:", err)
	}
}

// Server is the command layer over the auction floor: it authenticates
// callers, parses their commands, invokes the Coordinator and formats
// results. Auction outcomes are broadcast to every connected client.
type Server struct {
	coord    *auction.Coordinator
	clients  map[*client]struct{}
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

func New(coord *auction.Coordinator) *Server {
	return &Server{
		coord:   coord,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an authenticated caller to a websocket session.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request, verifier *auth.Verifier) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "Bearer token required", http.StatusUnauthorized)
		return
	}
	claims, err := verifier.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}
	c := &client{conn: conn, team: claims.TeamName(), recruiter: claims.IsRecruiter()}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	c.send(WSOut{Type: "hello", Payload: s.helpPayload(c)})
	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			log.Println("read:", err)
			return
		}
		switch msg.Type {
		case "help":
			c.send(WSOut{Type: "hello", Payload: s.helpPayload(c)})
		case "bid":
			var data struct {
				Item   string `json:"item"`
				Amount int    `json:"amount"`
			}
			json.Unmarshal(msg.Payload, &data)
			item, err := s.coord.PlaceBid(ctx, data.Item, c.team, data.Amount)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			s.broadcast(WSOut{Type: "leadingBid", Payload: map[string]interface{}{
				"item":  item.Name,
				"team":  item.Leader,
				"price": item.Price,
			}})
		case "sell":
			var data struct {
				Item string `json:"item"`
			}
			json.Unmarshal(msg.Payload, &data)
			sale, err := s.coord.Sell(ctx, data.Item)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			s.broadcast(WSOut{Type: "sold", Payload: map[string]interface{}{
				"item":  sale.Item.Name,
				"team":  sale.Team.Name,
				"price": sale.Price,
			}})
		case "leader":
			var data struct {
				Item string `json:"item"`
			}
			json.Unmarshal(msg.Payload, &data)
			item, err := s.coord.GetLeader(ctx, data.Item)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			c.send(WSOut{Type: "leader", Payload: leaderPayload(item)})
		case "budget":
			team, err := s.coord.GetBudget(ctx, c.team)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			capped := s.coord.CappedCategory()
			c.send(WSOut{Type: "budget", Payload: map[string]interface{}{
				"team":           team.Name,
				"budget":         team.Budget,
				"cappedCategory": capped.Name,
				"cappedUsed":     team.CappedCount,
				"cap":            capped.Cap,
			}})
		case "items":
			var data struct {
				Category string `json:"category,omitempty"`
			}
			json.Unmarshal(msg.Payload, &data)
			items, err := s.coord.ListItems(ctx, data.Category)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			c.send(WSOut{Type: "items", Payload: map[string]interface{}{"items": items}})
		case "teams":
			teams, err := s.coord.ListTeams(ctx)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			c.send(WSOut{Type: "teams", Payload: map[string]interface{}{"teams": teams}})
		case "addItem":
			if !c.recruiter {
				c.send(WSOut{Type: "error", Payload: map[string]interface{}{
					"code":    "Forbidden",
					"message": "only recruiters can add items",
				}})
				continue
			}
			var data struct {
				Item     string `json:"item"`
				Category string `json:"category"`
				Rating   int    `json:"rating"`
			}
			json.Unmarshal(msg.Payload, &data)
			item, err := s.coord.AddItem(ctx, data.Item, data.Category, data.Rating)
			if err != nil {
				c.send(errorOut(err))
				continue
			}
			s.broadcast(WSOut{Type: "itemAdded", Payload: item})
		}
	}
}

// BroadcastEvent relays timer-driven coordinator outcomes to every client.
// Wired as the Coordinator's event sink at startup.
func (s *Server) BroadcastEvent(ev auction.Event) {
	switch ev.Type {
	case auction.EventAutoSold:
		s.broadcast(WSOut{Type: "autoSold", Payload: map[string]interface{}{
			"item":  ev.Item,
			"team":  ev.Team,
			"price": ev.Price,
		}})
	case auction.EventAutoSaleBlocked:
		s.broadcast(WSOut{Type: "autoSaleBlocked", Payload: map[string]interface{}{
			"item":    ev.Item,
			"team":    ev.Team,
			"reasons": ev.Reasons,
		}})
	}
}

func (s *Server) broadcast(out WSOut) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.send(out)
	}
}

func (s *Server) helpPayload(c *client) map[string]interface{} {
	commands := []string{
		"bid {item, amount} - place or raise a bid",
		"sell {item} - finalize the current leading bid",
		"leader {item} - current highest bid or SOLD",
		"budget - your remaining budget",
		"items {category?} - list the catalog",
		"teams - list teams",
	}
	if c.recruiter {
		commands = append(commands, "addItem {item, category, rating} - grow the catalog")
	}
	return map[string]interface{}{
		"team":     c.team,
		"commands": commands,
		"note":     "uncontested bids sell automatically when their countdown elapses",
	}
}

func leaderPayload(item ledger.Item) map[string]interface{} {
	if item.Leader == "" {
		return map[string]interface{}{"item": item.Name, "status": item.Status, "message": "no bids yet"}
	}
	return map[string]interface{}{
		"item":   item.Name,
		"status": item.Status,
		"team":   item.Leader,
		"price":  item.Price,
	}
}

// errorOut maps coordinator errors onto the wire taxonomy. Nothing here is
// fatal; every failure goes back to the caller as a structured payload.
func errorOut(err error) WSOut {
	payload := map[string]interface{}{
		"code":    errorCode(err),
		"message": err.Error(),
	}
	var rv *auction.RuleViolationError
	if errors.As(err, &rv) {
		payload["reasons"] = rv.Violations
	}
	return WSOut{Type: "error", Payload: payload}
}

func errorCode(err error) string {
	var (
		tooLow *auction.BidTooLowError
		floor  *auction.BelowFloorError
		budget *auction.InsufficientBudgetError
		rv     *auction.RuleViolationError
		pe     *auction.PersistenceError
	)
	switch {
	case errors.Is(err, ledger.ErrItemNotFound), errors.Is(err, ledger.ErrTeamNotFound):
		return "NotFound"
	case errors.Is(err, ledger.ErrItemExists), errors.Is(err, ledger.ErrTeamExists):
		return "AlreadyExists"
	case errors.Is(err, auction.ErrAlreadySold):
		return "AlreadySold"
	case errors.Is(err, auction.ErrNoActiveBid):
		return "NoActiveBid"
	case errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, auction.ErrInvalidRating),
		errors.Is(err, auction.ErrEmptyName),
		errors.Is(err, auction.ErrUnknownCategory):
		return "InvalidInput"
	case errors.As(err, &tooLow):
		return "BidTooLow"
	case errors.As(err, &floor):
		return "BelowOpeningFloor"
	case errors.As(err, &budget):
		return "BudgetExceeded"
	case errors.As(err, &rv):
		if rv.Stale {
			return "StaleState"
		}
		return "RuleViolation"
	case errors.As(err, &pe):
		return "PersistenceFailure"
	default:
		return "Internal"
	}
}

// HTTP handlers

func (s *Server) HandleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.coord.ListItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.coord.GetLeader(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) HandleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.coord.ListTeams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.coord.GetBudget(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// HandleCreateTeam seeds a team. Recruiter only.
func (s *Server) HandleCreateTeam(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || !claims.IsRecruiter() {
		http.Error(w, "recruiter role required", http.StatusForbidden)
		return
	}
	var body struct {
		Name   string `json:"name"`
		Budget int    `json:"budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	team, err := s.coord.RegisterTeam(r.Context(), body.Name, body.Budget)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "NotFound":
		status = http.StatusNotFound
	case "AlreadyExists":
		status = http.StatusConflict
	case "InvalidInput", "BidTooLow", "BelowOpeningFloor", "BudgetExceeded",
		"AlreadySold", "NoActiveBid", "RuleViolation", "StaleState":
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}
