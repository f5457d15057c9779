package headless

// Both drivers register with the backend registry on import, so
// Initialize can select them by name or automatically.
import (
	_ "github.com/gogpu/headless/backend/native"
	_ "github.com/gogpu/headless/backend/software"
)
