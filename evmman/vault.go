package evmman

// ABI of the escrow vault contract. One vault per chain holds every offer
// leg keyed by a 32-byte escrow id; release and refund are admin-only and
// take the destination explicitly. An optional hash lock turns a leg into
// an HTLC: release then requires the preimage.
const vaultABI = `[
	{"type":"event","name":"EscrowFunded","anonymous":false,"inputs":[
		{"name":"escrowId","type":"bytes32","indexed":true},
		{"name":"payer","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"function","name":"createEscrow","stateMutability":"payable","inputs":[
		{"name":"escrowId","type":"bytes32"},
		{"name":"payee","type":"address"},
		{"name":"hashLock","type":"bytes32"},
		{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"release","stateMutability":"nonpayable","inputs":[
		{"name":"escrowId","type":"bytes32"},
		{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
		{"name":"escrowId","type":"bytes32"},
		{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"escrows","stateMutability":"view","inputs":[
		{"name":"","type":"bytes32"}],"outputs":[
		{"name":"payer","type":"address"},
		{"name":"payee","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"funded","type":"bool"},
		{"name":"settled","type":"bool"}]}
]`
