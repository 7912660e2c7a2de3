/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

// ResourceKind tags a spec record type in the persistent store. Kinds share
// one store, so the tag is part of every key and must stay stable.
type ResourceKind string

const (
	KindVolumeSpec  ResourceKind = "VolumeSpec"
	KindReplicaSpec ResourceKind = "ReplicaSpec"
	KindNexusSpec   ResourceKind = "NexusSpec"
)

// ObjectKey uniquely identifies a spec record across all resource kinds
// sharing one store.
type ObjectKey struct {
	Kind ResourceKind
	ID   string
}

// String renders the key in its canonical "<kind>/<id>" form.
func (k ObjectKey) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Object is implemented by every persisted spec record.
type Object interface {
	Key() ObjectKey
}
