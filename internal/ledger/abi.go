package ledger

// ContractABI is the JSON ABI of the voting contract.
const ContractABI = `[
  {"type":"function","name":"currentSessionId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isAdmin","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isVoterRegistered","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"votingStarted","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getParties","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
  {"type":"function","name":"votingEndTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"hasVotedInSession","stateMutability":"view","inputs":[{"name":"sessionId","type":"uint256"},{"name":"voter","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerVoter","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"}],"outputs":[]},
  {"type":"function","name":"addAdmin","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]},
  {"type":"function","name":"startVoting","stateMutability":"nonpayable","inputs":[{"name":"parties","type":"string[]"},{"name":"durationSeconds","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"stopVoting","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"party","type":"string"}],"outputs":[]},
  {"type":"event","name":"VoterRegistered","anonymous":false,"inputs":[{"name":"voter","type":"address","indexed":true}]},
  {"type":"event","name":"VotingSessionStarted","anonymous":false,"inputs":[{"name":"endTime","type":"uint256","indexed":false},{"name":"parties","type":"string[]","indexed":false}]},
  {"type":"event","name":"VoteCast","anonymous":false,"inputs":[{"name":"voter","type":"address","indexed":true},{"name":"party","type":"string","indexed":false}]},
  {"type":"event","name":"VotingSessionEnded","anonymous":false,"inputs":[{"name":"winningParty","type":"string","indexed":false},{"name":"parties","type":"string[]","indexed":false},{"name":"voteCounts","type":"uint256[]","indexed":false}]}
]`
