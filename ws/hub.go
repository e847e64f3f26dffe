package ws

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Real-vivek09/collabkart/auth"
)

var sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "collabkart_ws_sessions",
	Help: "Open websocket sessions.",
})

func init() {
	prometheus.MustRegister(sessionsGauge)
}

// Session describes one live websocket connection of a user.
type Session struct {
	UID        string `json:"uid"`
	Sid        string `json:"sid"`
	CreateTime int64  `json:"create_time"`
	IP         string `json:"ip"`
}

// Hub owns the process-wide room registry: every open session, keyed by
// the user identifier it belongs to. Rooms appear when a client connects
// and vanish when the last connection drops; a missing room just means
// the user is offline for the live channel.
type Hub struct {
	verifier auth.Verifier
	hstore   *HandlerStore

	// Max concurrent sessions per user; the oldest is kicked first.
	sessionQuota int
}

func NewHub(verifier auth.Verifier, sessionQuota int) *Hub {
	return &Hub{
		verifier:     verifier,
		sessionQuota: sessionQuota,
		hstore: &HandlerStore{
			handlers: make(map[string]*Handler),
		},
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		UID:        id.UID,
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().UnixNano(),
		IP:         getRemoteIP(r),
	}

	// If the upgrade fails, Upgrade replies to the client itself.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrade error, uid: %s, err: %v", id.UID, err)
		return
	}

	handler := &Handler{
		dataChan: make(chan *sessionData, 16),
		session:  sess,
		conn:     conn,
		hub:      h,
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.delHandler(sess.Sid)
		return nil
	})

	h.addHandler(handler)

	go handler.recvLoop()
	go handler.sendLoop()
}

// Broadcast delivers payload to every open session of uid and reports
// whether any session was there to take it. A false return just means
// the user is offline for the live channel.
func (h *Hub) Broadcast(uid, event string, payload any) bool {
	handlers := h.hstore.getByUID(uid)
	if len(handlers) == 0 {
		glog.V(5).Infof("broadcast: no room for uid %s", uid)
		return false
	}
	for _, handler := range handlers {
		handler.appendDataChan(&sessionData{Envelope: &Envelope{Event: event, Data: payload}})
	}
	return true
}

// NumSessions returns the count of open sessions, for tests and stats.
func (h *Hub) NumSessions() int {
	return h.hstore.count()
}

// Close closes every open session; used at shutdown.
func (h *Hub) Close() {
	glog.Infof("close connections ...")
	h.hstore.close()
	glog.Infof("close connections done")
}

func (h *Hub) addHandler(handler *Handler) {
	h.hstore.add(handler)
	sessionsGauge.Inc()
	h.enforceQuota(handler.session.UID)
}

func (h *Hub) delHandler(sid string) {
	if h.hstore.del(sid) {
		sessionsGauge.Dec()
	}
}

// enforceQuota kicks the oldest sessions of uid beyond the quota.
func (h *Hub) enforceQuota(uid string) {
	if h.sessionQuota <= 0 {
		return
	}
	handlers := h.hstore.getByUID(uid)
	n := len(handlers) - h.sessionQuota
	if n <= 0 {
		return
	}

	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].session.CreateTime < handlers[j].session.CreateTime
	})

	for _, handler := range handlers[:n] {
		glog.V(5).Infof("kickoff session over quota: %s", handler)
		handler.appendDataChan(&sessionData{Error: KickedOff})
		h.delHandler(handler.session.Sid)
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			for _, x := range strings.Split(ips, ",") {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
