package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Required configuration keys. Construction fails when any is absent or
// malformed; EnsureDefaults can seed a fresh store first.
const (
	KeyManageGroup      = "manage_group"
	KeyManageUsers      = "manage_users"
	KeyAutoAgreeFriend  = "auto_agree_friend"
	KeyAutoRejectFriend = "auto_reject_friend"
	KeyAutoAgreeGroup   = "auto_agree_group"
	KeyAutoRejectGroup  = "auto_reject_group"
	KeyUserBlacklist    = "user_blacklist"
	KeyGroupBlacklist   = "group_blacklist"
	KeyBlockSmallGroup  = "block_small_group"
	KeyMinGroupSize     = "min_group_size"
	KeyMaxGroupSize     = "max_group_size"
	KeyMaxGroupCapacity = "max_group_capacity"
	KeyMaxBanDays       = "max_ban_days"
	KeyKickBlockUser    = "kick_block_user"
	KeyKickBlockGroup   = "kick_block_group"
	KeyMutualBlacklist  = "mutual_blacklist"
	KeyCount            = "count"
	KeyBatchSize        = "batch_size"
	KeyCheckNewGroup    = "check_new_group"
	KeyDelay            = "delay"
)

func Defaults() map[string]string {
	return map[string]string{
		KeyManageGroup:      "",
		KeyManageUsers:      "[]",
		KeyAutoAgreeFriend:  "false",
		KeyAutoRejectFriend: "false",
		KeyAutoAgreeGroup:   "false",
		KeyAutoRejectGroup:  "false",
		KeyUserBlacklist:    "[]",
		KeyGroupBlacklist:   "[]",
		KeyBlockSmallGroup:  "false",
		KeyMinGroupSize:     "10",
		KeyMaxGroupSize:     "0",
		KeyMaxGroupCapacity: "50",
		KeyMaxBanDays:       "7",
		KeyKickBlockUser:    "false",
		KeyKickBlockGroup:   "true",
		KeyMutualBlacklist:  "[]",
		KeyCount:            "20",
		KeyBatchSize:        "0",
		KeyCheckNewGroup:    "true",
		KeyDelay:            "60",
	}
}

// Settings is the typed, validated view over a Store. Reads and mutations are
// safe for concurrent handlers; every mutation is written through to the Store
// and the caller decides when to Save.
type Settings struct {
	mu    sync.RWMutex
	store Store
	log   *zap.Logger

	adminID string

	manageGroup string
	manageUsers map[string]bool

	autoAgreeFriend  bool
	autoRejectFriend bool
	autoAgreeGroup   bool
	autoRejectGroup  bool
	userBlacklist    map[string]bool
	groupBlacklist   map[string]bool

	blockSmallGroup  bool
	minGroupSize     int
	maxGroupSize     int
	maxGroupCapacity int
	maxBanDays       int
	kickBlockUser    bool
	kickBlockGroup   bool
	mutualBlacklist  map[string]bool

	count         int
	batchSize     int
	checkNewGroup bool
	delay         int
}

// New validates the store contents and normalizes the approver lists.
// adminIDs is the host's admin list; its first valid entry becomes the primary
// admin and is always an approver.
func New(store Store, adminIDs []string, log *zap.Logger) (*Settings, error) {
	s := &Settings{store: store, log: log}

	adminID := ""
	for _, id := range adminIDs {
		if isDigits(id) {
			adminID = id
			break
		}
	}
	s.adminID = adminID

	var err error
	if s.manageGroup, err = getString(store, KeyManageGroup); err != nil {
		return nil, err
	}
	if s.manageUsers, err = getIDSet(store, KeyManageUsers); err != nil {
		return nil, err
	}
	if s.autoAgreeFriend, err = getBool(store, KeyAutoAgreeFriend); err != nil {
		return nil, err
	}
	if s.autoRejectFriend, err = getBool(store, KeyAutoRejectFriend); err != nil {
		return nil, err
	}
	if s.autoAgreeGroup, err = getBool(store, KeyAutoAgreeGroup); err != nil {
		return nil, err
	}
	if s.autoRejectGroup, err = getBool(store, KeyAutoRejectGroup); err != nil {
		return nil, err
	}
	if s.userBlacklist, err = getIDSet(store, KeyUserBlacklist); err != nil {
		return nil, err
	}
	if s.groupBlacklist, err = getIDSet(store, KeyGroupBlacklist); err != nil {
		return nil, err
	}
	if s.blockSmallGroup, err = getBool(store, KeyBlockSmallGroup); err != nil {
		return nil, err
	}
	if s.minGroupSize, err = getInt(store, KeyMinGroupSize); err != nil {
		return nil, err
	}
	if s.maxGroupSize, err = getInt(store, KeyMaxGroupSize); err != nil {
		return nil, err
	}
	if s.maxGroupCapacity, err = getInt(store, KeyMaxGroupCapacity); err != nil {
		return nil, err
	}
	if s.maxBanDays, err = getInt(store, KeyMaxBanDays); err != nil {
		return nil, err
	}
	if s.kickBlockUser, err = getBool(store, KeyKickBlockUser); err != nil {
		return nil, err
	}
	if s.kickBlockGroup, err = getBool(store, KeyKickBlockGroup); err != nil {
		return nil, err
	}
	if s.mutualBlacklist, err = getIDSet(store, KeyMutualBlacklist); err != nil {
		return nil, err
	}
	if s.count, err = getInt(store, KeyCount); err != nil {
		return nil, err
	}
	if s.batchSize, err = getInt(store, KeyBatchSize); err != nil {
		return nil, err
	}
	if s.checkNewGroup, err = getBool(store, KeyCheckNewGroup); err != nil {
		return nil, err
	}
	if s.delay, err = getInt(store, KeyDelay); err != nil {
		return nil, err
	}

	// Normalize: review group must be numeric or empty, the primary admin is
	// always an approver. Write the normalized values back.
	if !isDigits(s.manageGroup) {
		s.manageGroup = ""
	}
	if adminID != "" {
		s.manageUsers[adminID] = true
	}
	store.Set(KeyManageGroup, s.manageGroup)
	store.Set(KeyManageUsers, encodeIDSet(s.manageUsers))

	if s.MissingReviewDestination() {
		log.Warn("no review group or approvers configured, approval messages have nowhere to go")
	}

	return s, nil
}

// MissingReviewDestination reports whether admin-facing messages can be
// delivered at all.
func (s *Settings) MissingReviewDestination() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manageGroup == "" && len(s.manageUsers) == 0
}

func (s *Settings) Save(ctx context.Context) error { return s.store.Save(ctx) }

// ---- read accessors ----

func (s *Settings) AdminID() string { return s.adminID }

func (s *Settings) ManageGroup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manageGroup
}

func (s *Settings) ManageUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.manageUsers)
}

func (s *Settings) IsManageUser(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manageUsers[id]
}

func (s *Settings) AutoAgreeFriend() bool  { s.mu.RLock(); defer s.mu.RUnlock(); return s.autoAgreeFriend }
func (s *Settings) AutoRejectFriend() bool { s.mu.RLock(); defer s.mu.RUnlock(); return s.autoRejectFriend }
func (s *Settings) AutoAgreeGroup() bool   { s.mu.RLock(); defer s.mu.RUnlock(); return s.autoAgreeGroup }
func (s *Settings) AutoRejectGroup() bool  { s.mu.RLock(); defer s.mu.RUnlock(); return s.autoRejectGroup }

func (s *Settings) IsBlackUser(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userBlacklist[id]
}

func (s *Settings) IsBlackGroup(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupBlacklist[id]
}

func (s *Settings) BlockSmallGroup() bool { s.mu.RLock(); defer s.mu.RUnlock(); return s.blockSmallGroup }
func (s *Settings) MinGroupSize() int     { s.mu.RLock(); defer s.mu.RUnlock(); return s.minGroupSize }
func (s *Settings) MaxGroupSize() int     { s.mu.RLock(); defer s.mu.RUnlock(); return s.maxGroupSize }
func (s *Settings) MaxGroupCapacity() int { s.mu.RLock(); defer s.mu.RUnlock(); return s.maxGroupCapacity }
func (s *Settings) KickBlockUser() bool   { s.mu.RLock(); defer s.mu.RUnlock(); return s.kickBlockUser }
func (s *Settings) KickBlockGroup() bool  { s.mu.RLock(); defer s.mu.RUnlock(); return s.kickBlockGroup }

// MaxDuration is the mute ceiling in seconds, derived from max_ban_days.
func (s *Settings) MaxDuration() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.maxBanDays) * 86400
}

func (s *Settings) MutualBlacklist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.mutualBlacklist)
}

func (s *Settings) Count() int          { s.mu.RLock(); defer s.mu.RUnlock(); return s.count }
func (s *Settings) BatchSize() int      { s.mu.RLock(); defer s.mu.RUnlock(); return s.batchSize }
func (s *Settings) CheckNewGroup() bool { s.mu.RLock(); defer s.mu.RUnlock(); return s.checkNewGroup }
func (s *Settings) Delay() int          { s.mu.RLock(); defer s.mu.RUnlock(); return s.delay }

// ---- mutations ----

func (s *Settings) AddBlackGroup(id string) bool {
	return s.addTo(&s.groupBlacklist, KeyGroupBlacklist, id)
}

func (s *Settings) RemoveBlackGroup(id string) bool {
	return s.removeFrom(&s.groupBlacklist, KeyGroupBlacklist, id)
}

func (s *Settings) AddBlackUser(id string) bool {
	return s.addTo(&s.userBlacklist, KeyUserBlacklist, id)
}

func (s *Settings) RemoveBlackUser(id string) bool {
	return s.removeFrom(&s.userBlacklist, KeyUserBlacklist, id)
}

func (s *Settings) AddManageUser(id string) bool {
	return s.addTo(&s.manageUsers, KeyManageUsers, id)
}

func (s *Settings) RemoveManageUser(id string) bool {
	return s.removeFrom(&s.manageUsers, KeyManageUsers, id)
}

func (s *Settings) addTo(set *map[string]bool, key, id string) bool {
	if !isDigits(id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if (*set)[id] {
		return false
	}
	(*set)[id] = true
	s.store.Set(key, encodeIDSet(*set))
	return true
}

func (s *Settings) removeFrom(set *map[string]bool, key, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !(*set)[id] {
		return false
	}
	delete(*set, id)
	s.store.Set(key, encodeIDSet(*set))
	return true
}

// ---- parsing ----

func getString(store Store, key string) (string, error) {
	v, ok := store.Get(key)
	if !ok {
		return "", fmt.Errorf("settings: missing required key %q", key)
	}
	return v, nil
}

func getBool(store Store, key string) (bool, error) {
	raw, err := getString(store, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("settings: key %q: %w", key, err)
	}
	return v, nil
}

func getInt(store Store, key string) (int, error) {
	raw, err := getString(store, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("settings: key %q: %w", key, err)
	}
	return v, nil
}

// getIDSet decodes a JSON string array, keeping digit strings only.
func getIDSet(store Store, key string) (map[string]bool, error) {
	raw, err := getString(store, key)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("settings: key %q: %w", key, err)
	}
	set := make(map[string]bool, len(list))
	for _, id := range list {
		if isDigits(id) {
			set[id] = true
		}
	}
	return set, nil
}

func encodeIDSet(set map[string]bool) string {
	b, _ := json.Marshal(sortedKeys(set))
	return string(b)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
