package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	labelSession  = "devpulse.io/session"
	labelOwner    = "devpulse.io/owner"
	labelWorkload = "devpulse.io/session-id"

	recordKey = "record"

	updateRetries = 3
)

// KubernetesStore keeps session records as ConfigMaps in a dedicated
// namespace. The record itself is JSON under the "record" key; owner
// scoping rides on a label so list and watch stay server-side filtered.
type KubernetesStore struct {
	clientset kubernetes.Interface
	namespace string
}

// NewKubernetesStore builds a store from in-cluster config, falling
// back to the given kubeconfig path.
func NewKubernetesStore(kubeconfigPath, namespace string) (*KubernetesStore, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &KubernetesStore{clientset: clientset, namespace: namespace}, nil
}

// NewKubernetesStoreWithClient is used by tests with a fake clientset.
func NewKubernetesStoreWithClient(clientset kubernetes.Interface, namespace string) *KubernetesStore {
	return &KubernetesStore{clientset: clientset, namespace: namespace}
}

// ownerLabel hashes the principal id into a label-safe value. The exact
// owner lives inside the record and is re-checked after every read.
func ownerLabel(owner string) string {
	h := fnv.New64a()
	h.Write([]byte(owner))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *KubernetesStore) List(ctx context.Context, owner string) ([]*RawSession, error) {
	selector := fmt.Sprintf("%s=true,%s=%s", labelSession, labelOwner, ownerLabel(owner))
	cms, err := s.clientset.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	var out []*RawSession
	for i := range cms.Items {
		raw, err := decodeRecord(&cms.Items[i])
		if err != nil {
			log.Printf("skipping undecodable session record %s: %v", cms.Items[i].Name, err)
			continue
		}
		if raw.Owner != owner {
			// label hash collision; not this principal's record
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func (s *KubernetesStore) Get(ctx context.Context, owner, id string) (*RawSession, error) {
	cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	raw, err := decodeRecord(cm)
	if err != nil {
		return nil, err
	}
	if raw.Owner != owner {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *KubernetesStore) Create(ctx context.Context, owner string, raw *RawSession) (*RawSession, error) {
	cp := raw.Clone()
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("sess-%.8s", uuid.New().String())
	}
	cp.Owner = owner
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	cm, err := encodeRecord(cp)
	if err != nil {
		return nil, err
	}

	if _, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: create: %v", ErrUnavailable, err)
	}
	return cp, nil
}

func (s *KubernetesStore) Update(ctx context.Context, owner, id string, mutate func(*RawSession) error) (*RawSession, error) {
	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, id, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: get for update: %v", ErrUnavailable, err)
		}

		raw, err := decodeRecord(cm)
		if err != nil {
			return nil, err
		}
		if raw.Owner != owner {
			return nil, ErrNotFound
		}

		if err := mutate(raw); err != nil {
			return nil, err
		}
		raw.ID = id
		raw.Owner = owner

		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session record: %w", err)
		}
		cm.Data[recordKey] = string(data)

		if _, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
			if apierrors.IsConflict(err) {
				lastErr = err
				continue // raced a concurrent writer, re-read and retry
			}
			return nil, fmt.Errorf("%w: update: %v", ErrUnavailable, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: update conflicts exhausted: %v", ErrUnavailable, lastErr)
}

func (s *KubernetesStore) Delete(ctx context.Context, owner, id string) error {
	// read first so another owner's id cannot be deleted
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}

	if err := s.clientset.CoreV1().ConfigMaps(s.namespace).Delete(ctx, id, metav1.DeleteOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// ReleaseWorkload deletes the pods executing the session. Workload pods
// carry the session id as a label.
func (s *KubernetesStore) ReleaseWorkload(ctx context.Context, id string) error {
	err := s.clientset.CoreV1().Pods(s.namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelWorkload, id),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("%w: release workload: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch streams session record changes for all owners. The event bridge
// fans them out to the right principal. Reconnects with backoff until
// ctx is cancelled.
func (s *KubernetesStore) Watch(ctx context.Context) (<-chan Change, error) {
	out := make(chan Change, 64)

	go func() {
		defer close(out)
		for {
			w, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Watch(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("%s=true", labelSession),
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("session watch failed, retrying: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}

			s.pump(ctx, w, out)
			if ctx.Err() != nil {
				return
			}
			// watch expired server-side; re-establish
		}
	}()

	return out, nil
}

func (s *KubernetesStore) pump(ctx context.Context, w watch.Interface, out chan<- Change) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				return
			}
			change, ok := convertEvent(ev)
			if !ok {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

func convertEvent(ev watch.Event) (Change, bool) {
	cm, ok := ev.Object.(*corev1.ConfigMap)
	if !ok {
		return Change{}, false
	}
	raw, err := decodeRecord(cm)
	if err != nil {
		log.Printf("ignoring watch event for undecodable record %s: %v", cm.Name, err)
		return Change{}, false
	}

	switch ev.Type {
	case watch.Added:
		return Change{Type: ChangeAdded, ID: raw.ID, Owner: raw.Owner, Session: raw}, true
	case watch.Modified:
		return Change{Type: ChangeModified, ID: raw.ID, Owner: raw.Owner, Session: raw}, true
	case watch.Deleted:
		return Change{Type: ChangeDeleted, ID: raw.ID, Owner: raw.Owner}, true
	}
	return Change{}, false
}

func decodeRecord(cm *corev1.ConfigMap) (*RawSession, error) {
	data, ok := cm.Data[recordKey]
	if !ok {
		return nil, fmt.Errorf("configmap %s has no session record", cm.Name)
	}
	var raw RawSession
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("configmap %s record is not valid JSON: %w", cm.Name, err)
	}
	return &raw, nil
}

func encodeRecord(raw *RawSession) (*corev1.ConfigMap, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name: raw.ID,
			Labels: map[string]string{
				labelSession: "true",
				labelOwner:   ownerLabel(raw.Owner),
			},
		},
		Data: map[string]string{recordKey: string(data)},
	}, nil
}
