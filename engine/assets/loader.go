package assets

import "github.com/spaghettifunk/anima/engine/assets/loaders"

type Loader interface {
	Load(path string, params interface{}) (*loaders.Resource, error) // `interface{}` here allows loaders to take per-type options
	Unload(*loaders.Resource) error
}
