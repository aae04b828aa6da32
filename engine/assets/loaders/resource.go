package loaders

/**
 * @brief A generic structure for a loaded asset. All loaders load data
 * into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the file read, in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}
