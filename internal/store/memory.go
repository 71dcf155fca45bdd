package store

import (
	"sync"

	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/util"
)

// InMemoryStore is a map-backed Store used when no database DSN is configured
// and throughout the test suites.
type InMemoryStore struct {
	mu         sync.RWMutex
	messages   []models.Message
	nextID     int64
	images     map[string]models.Image
	imageOrder []string
	authorized map[string]struct{}
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:     1,
		images:     make(map[string]models.Image),
		authorized: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) FindMessages(category models.Category) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextID
	s.nextID++
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) FindImages() ([]models.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Image, 0, len(s.imageOrder))
	for _, id := range s.imageOrder {
		out = append(out, s.images[id])
	}
	return out, nil
}

func (s *InMemoryStore) SaveImage(content []byte) (string, error) {
	if len(content) == 0 {
		return "", models.ErrEmptyImageContent
	}
	id := util.GenerateImageID()
	img := models.Image{ID: id, Content: append([]byte(nil), content...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id] = img
	s.imageOrder = append(s.imageOrder, id)
	return id, nil
}

func (s *InMemoryStore) GetImage(id string) (*models.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (s *InMemoryStore) IsAuthorized(chatID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authorized[chatID]
	return ok, nil
}

func (s *InMemoryStore) Authorize(chatID string) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[chatID] = struct{}{}
	return nil
}

func (s *InMemoryStore) AuthorizedChats() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.authorized))
	for chatID := range s.authorized {
		out = append(out, chatID)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
