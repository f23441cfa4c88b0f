package replica

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Operation names the four mutation kinds a replication event can carry.
type Operation string

const (
	OpLogin   Operation = "login"
	OpChannel Operation = "channel"
	OpPublish Operation = "publish"
	OpMessage Operation = "message"
)

// ReplicationEvent is what State emits after every successful local
// mutation; coordination.Engine is the only consumer, reached through the
// EventSink interface so this package never imports the coordination one.
type ReplicationEvent struct {
	Server        string      `msgpack:"server"`
	Operation     Operation   `msgpack:"operation"`
	OperationData interface{} `msgpack:"operation_data"`
	Timestamp     time.Time   `msgpack:"timestamp"`
	Clock         uint64      `msgpack:"clock"`
}

// EventSink receives replication events emitted by a successful local
// mutation. coordination.Engine implements this and registers itself with
// State.SetSink at startup.
type EventSink interface {
	Emit(ReplicationEvent)
}

type noopSink struct{}

func (noopSink) Emit(ReplicationEvent) {}

// LoginData is the operation_data payload for OpLogin.
type LoginData struct {
	User      string    `msgpack:"user" json:"user"`
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
}

// ChannelData is the operation_data payload for OpChannel.
type ChannelData struct {
	Channel   string    `msgpack:"channel" json:"channel"`
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
}

// Message is one private message, replicated and persisted.
type Message struct {
	Src       string    `msgpack:"src" json:"src"`
	Dst       string    `msgpack:"dst" json:"dst"`
	Body      string    `msgpack:"message" json:"message"`
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
	Clock     uint64    `msgpack:"clock" json:"clock"`
}

// Publication is one channel publication, replicated and persisted.
type Publication struct {
	Channel   string    `msgpack:"channel" json:"channel"`
	User      string    `msgpack:"user" json:"user"`
	Body      string    `msgpack:"message" json:"message"`
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
	Clock     uint64    `msgpack:"clock" json:"clock"`
}

// Login record, part of the append-only logins list.
type Login struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Fanout is how State tells a caller which pub/sub topic and payload to
// broadcast to subscribers after a successful publish/message operation.
// The caller (Request Ingress) owns the actual pub/sub proxy connection.
type Fanout struct {
	Topic   string
	Payload interface{}
}

// State holds every replicated application collection plus the logical
// clock they are stamped with, and applies the six request operations.
type State struct {
	name   string
	clock  *Clock
	store  *Store
	sinkMu sync.RWMutex
	sink   EventSink

	usersMu sync.Mutex
	users   map[string]struct{}
	userOrd []string

	channelsMu sync.Mutex
	channels   map[string]struct{}
	channelOrd []string

	loginsMu sync.Mutex
	logins   []Login

	messagesMu sync.Mutex
	messages   []Message

	publicationsMu sync.Mutex
	publications   []Publication
}

// NewState creates an empty State for the given server name, loading any
// existing collections from store.
func NewState(name string, clock *Clock, store *Store) *State {
	s := &State{
		name:     name,
		clock:    clock,
		store:    store,
		users:    make(map[string]struct{}),
		channels: make(map[string]struct{}),
		sink:     noopSink{},
	}
	s.load()
	return s
}

func (s *State) load() {
	var users []string
	s.store.Load(SlotUsers, &users)
	for _, u := range users {
		s.users[u] = struct{}{}
		s.userOrd = append(s.userOrd, u)
	}

	var channels []string
	s.store.Load(SlotChannels, &channels)
	for _, c := range channels {
		s.channels[c] = struct{}{}
		s.channelOrd = append(s.channelOrd, c)
	}

	s.store.Load(SlotLogins, &s.logins)
	s.store.Load(SlotMessages, &s.messages)
	s.store.Load(SlotPublications, &s.publications)
}

// SetSink installs the replication event consumer. Must be called once at
// startup before any client traffic is served.
func (s *State) SetSink(sink EventSink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

func (s *State) emit(op Operation, data interface{}, ts time.Time, clock uint64) {
	s.sinkMu.RLock()
	sink := s.sink
	s.sinkMu.RUnlock()
	sink.Emit(ReplicationEvent{
		Server:        s.name,
		Operation:     op,
		OperationData: data,
		Timestamp:     ts,
		Clock:         clock,
	})
}

func (s *State) persistUsers() {
	s.usersMu.Lock()
	ord := append([]string(nil), s.userOrd...)
	s.usersMu.Unlock()
	data, _ := json.Marshal(ord)
	s.store.Save(SlotUsers, data)
}

func (s *State) persistChannels() {
	s.channelsMu.Lock()
	ord := append([]string(nil), s.channelOrd...)
	s.channelsMu.Unlock()
	data, _ := json.Marshal(ord)
	s.store.Save(SlotChannels, data)
}

func (s *State) persistLogins() {
	s.loginsMu.Lock()
	logins := append([]Login(nil), s.logins...)
	s.loginsMu.Unlock()
	data, _ := json.Marshal(logins)
	s.store.Save(SlotLogins, data)
}

func (s *State) persistMessages() {
	s.messagesMu.Lock()
	msgs := append([]Message(nil), s.messages...)
	s.messagesMu.Unlock()
	data, _ := json.Marshal(msgs)
	s.store.Save(SlotMessages, data)
}

func (s *State) persistPublications() {
	s.publicationsMu.Lock()
	pubs := append([]Publication(nil), s.publications...)
	s.publicationsMu.Unlock()
	data, _ := json.Marshal(pubs)
	s.store.Save(SlotPublications, data)
}

// --- Local operations, invoked by Request Ingress. Each first observes the
// received clock, then (on success) ticks a fresh value for the
// replication event stamp. ---

// Login registers a new user.
func (s *State) Login(user string, timestamp time.Time, receivedClock uint64) (replyClock uint64, err error) {
	replyClock = s.clock.Observe(receivedClock)
	if user == "" {
		return replyClock, NewError(InvalidRequest, "missing user")
	}

	s.usersMu.Lock()
	if _, exists := s.users[user]; exists {
		s.usersMu.Unlock()
		return replyClock, NewError(Conflict, "user %q already registered", user)
	}
	s.users[user] = struct{}{}
	s.userOrd = append(s.userOrd, user)
	s.usersMu.Unlock()

	s.loginsMu.Lock()
	s.logins = append(s.logins, Login{User: user, Timestamp: timestamp})
	s.loginsMu.Unlock()

	s.persistUsers()
	s.persistLogins()

	stamp := s.clock.Tick()
	s.emit(OpLogin, LoginData{User: user, Timestamp: timestamp}, timestamp, stamp)
	return replyClock, nil
}

// Users returns the current user set in insertion order.
func (s *State) Users(receivedClock uint64) ([]string, uint64) {
	replyClock := s.clock.Observe(receivedClock)
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return append([]string(nil), s.userOrd...), replyClock
}

// HasUser reports whether a user is registered.
func (s *State) HasUser(user string) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	_, ok := s.users[user]
	return ok
}

// Channel registers a new channel.
func (s *State) Channel(channel string, timestamp time.Time, receivedClock uint64) (replyClock uint64, err error) {
	replyClock = s.clock.Observe(receivedClock)
	if channel == "" {
		return replyClock, NewError(InvalidRequest, "missing channel")
	}

	s.channelsMu.Lock()
	if _, exists := s.channels[channel]; exists {
		s.channelsMu.Unlock()
		return replyClock, NewError(Conflict, "channel %q already exists", channel)
	}
	s.channels[channel] = struct{}{}
	s.channelOrd = append(s.channelOrd, channel)
	s.channelsMu.Unlock()

	s.persistChannels()

	stamp := s.clock.Tick()
	s.emit(OpChannel, ChannelData{Channel: channel, Timestamp: timestamp}, timestamp, stamp)
	return replyClock, nil
}

// Channels returns the current channel set in insertion order.
func (s *State) Channels(receivedClock uint64) ([]string, uint64) {
	replyClock := s.clock.Observe(receivedClock)
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	return append([]string(nil), s.channelOrd...), replyClock
}

// HasChannel reports whether a channel exists.
func (s *State) HasChannel(channel string) bool {
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

// Publish appends a channel publication and returns the fan-out frame the
// caller must broadcast on the pub/sub proxy, topic = channel.
func (s *State) Publish(user, channel, message string, timestamp time.Time, receivedClock uint64) (Fanout, uint64, error) {
	replyClock := s.clock.Observe(receivedClock)
	if user == "" || channel == "" || message == "" {
		return Fanout{}, replyClock, NewError(InvalidRequest, "missing field")
	}
	if !s.HasChannel(channel) {
		return Fanout{}, replyClock, NewError(NotFound, "channel %q unknown", channel)
	}

	stamp := s.clock.Tick()
	pub := Publication{Channel: channel, User: user, Body: message, Timestamp: timestamp, Clock: stamp}

	s.publicationsMu.Lock()
	s.publications = append(s.publications, pub)
	s.publicationsMu.Unlock()
	s.persistPublications()

	s.emit(OpPublish, pub, timestamp, stamp)

	return Fanout{Topic: channel, Payload: pub}, stamp, nil
}

// Message appends a private message and returns the fan-out frame the
// caller must broadcast on the pub/sub proxy, topic = dst.
func (s *State) Message(src, dst, message string, timestamp time.Time, receivedClock uint64) (Fanout, uint64, error) {
	replyClock := s.clock.Observe(receivedClock)
	if src == "" || dst == "" || message == "" {
		return Fanout{}, replyClock, NewError(InvalidRequest, "missing field")
	}
	if !s.HasUser(dst) {
		return Fanout{}, replyClock, NewError(NotFound, "user %q unknown", dst)
	}

	stamp := s.clock.Tick()
	msg := Message{Src: src, Dst: dst, Body: message, Timestamp: timestamp, Clock: stamp}

	s.messagesMu.Lock()
	s.messages = append(s.messages, msg)
	s.messagesMu.Unlock()
	s.persistMessages()

	s.emit(OpMessage, msg, timestamp, stamp)

	return Fanout{Topic: dst, Payload: msg}, stamp, nil
}

// --- Idempotent apply path, invoked by coordination.Engine for inbound
// replication events. Returns true if state actually changed. ---

// addUser adds user to the set (and ordering) if not already present,
// persists, and reports whether it was newly added.
func (s *State) addUser(user string) bool {
	s.usersMu.Lock()
	if _, exists := s.users[user]; exists {
		s.usersMu.Unlock()
		return false
	}
	s.users[user] = struct{}{}
	s.userOrd = append(s.userOrd, user)
	s.usersMu.Unlock()
	s.persistUsers()
	return true
}

// ApplyLogin appends the user and login record if the user is not already
// present.
func (s *State) ApplyLogin(user string, timestamp time.Time) bool {
	if !s.addUser(user) {
		return false
	}

	s.loginsMu.Lock()
	s.logins = append(s.logins, Login{User: user, Timestamp: timestamp})
	s.loginsMu.Unlock()

	s.persistLogins()
	return true
}

// ApplyChannel appends the channel if it is not already present.
func (s *State) ApplyChannel(channel string) bool {
	s.channelsMu.Lock()
	if _, exists := s.channels[channel]; exists {
		s.channelsMu.Unlock()
		return false
	}
	s.channels[channel] = struct{}{}
	s.channelOrd = append(s.channelOrd, channel)
	s.channelsMu.Unlock()

	s.persistChannels()
	return true
}

// ApplyPublication appends a publication if its (channel,user,message,timestamp)
// tuple hasn't been seen before.
func (s *State) ApplyPublication(pub Publication) bool {
	s.publicationsMu.Lock()
	for _, existing := range s.publications {
		if existing.Channel == pub.Channel && existing.User == pub.User &&
			existing.Body == pub.Body && existing.Timestamp.Equal(pub.Timestamp) {
			s.publicationsMu.Unlock()
			return false
		}
	}
	s.publications = append(s.publications, pub)
	sortPublications(s.publications)
	s.publicationsMu.Unlock()
	s.persistPublications()
	return true
}

// ApplyMessage appends a message if its (src,dst,message,timestamp) tuple
// hasn't been seen before.
func (s *State) ApplyMessage(msg Message) bool {
	s.messagesMu.Lock()
	for _, existing := range s.messages {
		if existing.Src == msg.Src && existing.Dst == msg.Dst &&
			existing.Body == msg.Body && existing.Timestamp.Equal(msg.Timestamp) {
			s.messagesMu.Unlock()
			return false
		}
	}
	s.messages = append(s.messages, msg)
	sortMessages(s.messages)
	s.messagesMu.Unlock()
	s.persistMessages()
	return true
}

func sortMessages(m []Message) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Clock < m[j].Clock })
}

func sortPublications(p []Publication) {
	sort.SliceStable(p, func(i, j int) bool { return p[i].Clock < p[j].Clock })
}

// --- Full-sync snapshot & merge. ---

// Snapshot is the whole application state exchanged on a "sync" RPC.
type Snapshot struct {
	Users        []string      `msgpack:"users"`
	Channels     []string      `msgpack:"channels"`
	Logins       []Login       `msgpack:"logins"`
	Messages     []Message     `msgpack:"messages"`
	Publications []Publication `msgpack:"publications"`
}

// Snapshot returns a full copy of every collection.
func (s *State) Snapshot() Snapshot {
	s.usersMu.Lock()
	users := append([]string(nil), s.userOrd...)
	s.usersMu.Unlock()

	s.channelsMu.Lock()
	channels := append([]string(nil), s.channelOrd...)
	s.channelsMu.Unlock()

	s.loginsMu.Lock()
	logins := append([]Login(nil), s.logins...)
	s.loginsMu.Unlock()

	s.messagesMu.Lock()
	messages := append([]Message(nil), s.messages...)
	s.messagesMu.Unlock()

	s.publicationsMu.Lock()
	publications := append([]Publication(nil), s.publications...)
	s.publicationsMu.Unlock()

	return Snapshot{Users: users, Channels: channels, Logins: logins, Messages: messages, Publications: publications}
}

// Merge folds a peer's snapshot into local state: set-wise union for
// users/channels, dedup by user name for logins, tuple-key dedup for
// messages/publications, then re-sorts messages/publications by clock. All touched slots are persisted.
func (s *State) Merge(snap Snapshot) {
	for _, u := range snap.Users {
		s.addUser(u)
	}
	for _, c := range snap.Channels {
		s.ApplyChannel(c)
	}

	s.loginsMu.Lock()
	seen := make(map[string]struct{}, len(s.logins))
	for _, l := range s.logins {
		seen[l.User] = struct{}{}
	}
	for _, l := range snap.Logins {
		if _, ok := seen[l.User]; !ok {
			s.logins = append(s.logins, l)
			seen[l.User] = struct{}{}
		}
	}
	s.loginsMu.Unlock()
	s.persistLogins()

	for _, m := range snap.Messages {
		s.ApplyMessage(m)
	}
	for _, p := range snap.Publications {
		s.ApplyPublication(p)
	}
}
