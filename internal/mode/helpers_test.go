package mode

import "github.com/michael-pryor/MikeNet-sub001/internal/memacct"

func testRecyclerForShellSize(size int) *memacct.Recycler {
	return memacct.NewRecycler(size, 8)
}
