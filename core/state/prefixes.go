package state

var (
	mintPrefix         = []byte("token/mint/")
	tokenAccountPrefix = []byte("token/account/")
	marketPrefix       = []byte("lending/market/")
	reservePrefix      = []byte("lending/reserve/")
	obligationPrefix   = []byte("lending/obligation/")
	vaultPrefix        = []byte("vault/record/")
	vaultIndexPrefix   = []byte("vault/index/")
)
